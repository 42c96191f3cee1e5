package toolchain

import "fmt"

// ErrorKind classifies provisioning failures.
type ErrorKind int

const (
	// DownloadFailed covers network errors and unexpected HTTP answers.
	DownloadFailed ErrorKind = iota + 1
	// ExtractFailed covers corrupt archives, a missing tool entry and install errors.
	ExtractFailed
	// VerifyFailed is returned when the archive signature does not check out.
	VerifyFailed
)

func (k ErrorKind) String() string {
	switch k {
	case DownloadFailed:
		return "download failed"
	case ExtractFailed:
		return "extract failed"
	case VerifyFailed:
		return "verify failed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// ProvisionError is returned by Provisioner.Ensure.
type ProvisionError struct {
	Kind ErrorKind
	Err  error
}

func (e *ProvisionError) Error() string {
	return fmt.Sprintf("provision upload tool: %s: %v", e.Kind, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

func provisionError(kind ErrorKind, err error) error {
	return &ProvisionError{Kind: kind, Err: err}
}
