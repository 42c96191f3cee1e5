package apk

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/magiconair/properties"

	"github.com/oshokin/beta-publisher/internal/domain/release"
)

const (
	// PropertiesFilename is the record the build plugin writes into the package assets.
	PropertiesFilename = "crashlytics-build.properties"

	// PropertiesEntry is the full path of the record inside the archive.
	PropertiesEntry = "assets/" + PropertiesFilename

	// maxRecordSize caps the record read; real records are a few hundred bytes.
	maxRecordSize = 1 << 20
)

// Record keys.
const (
	keyAppName     = "app_name"
	keyPackageName = "package_name"
	keyBuildID     = "build_id"
	keyVersionName = "version_name"
	keyVersionCode = "version_code"
)

// ArchiveError reports a package that cannot be opened or parsed.
type ArchiveError struct {
	Path string
	Err  error
}

func (e *ArchiveError) Error() string {
	return fmt.Sprintf("read archive %s: %v", e.Path, e.Err)
}

func (e *ArchiveError) Unwrap() error {
	return e.Err
}

var errRecordTooLarge = errors.New("build record exceeds size limit")

// ReadBuildIdentity returns the identity embedded in the package at path.
// It returns (nil, nil) when the record is missing or empty and an
// *ArchiveError when the package cannot be read.
func ReadBuildIdentity(path string) (*release.BuildIdentity, error) {
	archive, err := zip.OpenReader(path)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: err}
	}

	defer func() {
		_ = archive.Close()
	}()

	entry := findEntry(&archive.Reader, PropertiesEntry)
	if entry == nil {
		return nil, nil //nolint:nilnil // Absent record is a valid negative result.
	}

	data, err := readEntry(entry)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: err}
	}

	identity, err := parseRecord(data)
	if err != nil {
		return nil, &ArchiveError{Path: path, Err: err}
	}

	return identity, nil
}

// findEntry looks the entry up in the central directory without decompressing anything.
func findEntry(r *zip.Reader, name string) *zip.File {
	for _, f := range r.File {
		if f.Name == name || strings.TrimPrefix(f.Name, "/") == name {
			return f
		}
	}

	return nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", f.Name, err)
	}

	defer func() {
		_ = rc.Close()
	}()

	data, err := io.ReadAll(io.LimitReader(rc, maxRecordSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", f.Name, err)
	}

	if len(data) > maxRecordSize {
		return nil, errRecordTooLarge
	}

	return data, nil
}

// parseRecord decodes the Java properties text. An empty record yields nil.
func parseRecord(data []byte) (*release.BuildIdentity, error) {
	// Properties files are ISO-8859-1; other characters arrive as \uXXXX escapes.
	loader := &properties.Loader{
		Encoding:         properties.ISO_8859_1,
		DisableExpansion: true,
	}

	props, err := loader.LoadBytes(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", PropertiesEntry, err)
	}

	if props.Len() == 0 {
		return nil, nil //nolint:nilnil // Empty record is equivalent to no record.
	}

	return &release.BuildIdentity{
		ApplicationName:  props.GetString(keyAppName, ""),
		PackageName:      props.GetString(keyPackageName, ""),
		BuildInstanceID:  props.GetString(keyBuildID, ""),
		DisplayVersion:   props.GetString(keyVersionName, ""),
		BuildVersionCode: props.GetString(keyVersionCode, ""),
	}, nil
}
