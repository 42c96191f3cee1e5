package publisher

import (
	"net/url"
	"slices"
	"strconv"
	"strings"

	"golang.org/x/net/http/httpproxy"

	"github.com/oshokin/beta-publisher/internal/config"
	"github.com/oshokin/beta-publisher/internal/environ"
)

const (
	// DefaultJavaExecutable runs the upload tool.
	DefaultJavaExecutable = "java"

	// uploadHost is the backend the tool talks to; proxy settings are resolved for it.
	uploadHost = "api.crashlytics.com"

	secretMask = "********"
)

// CommandSpec is everything that goes into one tool invocation.
type CommandSpec struct {
	Java         string
	ToolPath     string
	ManifestPath string
	ArtifactPath string
	ReleaseNotes string
	Settings     *config.Config
	Env          environ.Environ
}

// BuildCommand returns the argv of the upload tool for one artifact.
func BuildCommand(spec CommandSpec) []string {
	java := spec.Java
	if java == "" {
		java = DefaultJavaExecutable
	}

	cfg := spec.Settings
	env := spec.Env

	command := []string{java}
	command = append(command, proxyOptions(env)...)
	command = append(command,
		"-jar", spec.ToolPath,
		"-androidRes", ".",
		"-apiKey", env.Expand(cfg.APIKey),
		"-apiSecret", env.Expand(cfg.BuildSecret),
		"-androidManifest", spec.ManifestPath,
		"-uploadDist", spec.ArtifactPath,
		"-betaDistributionNotifications", strconv.FormatBool(cfg.ShouldNotifyTesters()),
	)

	if cfg.NotifyTesters.Type == config.NotifyTestersEmails && cfg.NotifyTesters.Emails != "" {
		command = append(command, "-betaDistributionEmails", env.Expand(cfg.NotifyTesters.Emails))
	}

	if cfg.NotifyTesters.Type == config.NotifyTestersGroup && cfg.NotifyTesters.Group != "" {
		command = append(command, "-betaDistributionGroupAliases", env.Expand(cfg.NotifyTesters.Group))
	}

	if spec.ReleaseNotes != "" {
		command = append(command, "-betaDistributionReleaseNotes", spec.ReleaseNotes)
	}

	return command
}

// proxyOptions mirrors the proxy environment as JVM system properties.
// Proxies are resolved for the upload host, so a NO_PROXY entry covering it
// drops them.
func proxyOptions(env environ.Environ) []string {
	proxyConfig := proxyConfigFrom(env)
	proxyFor := proxyConfig.ProxyFunc()

	var options []string

	if hosts := nonProxyHosts(proxyConfig.NoProxy); hosts != "" {
		options = append(options, "-Dhttp.nonProxyHosts="+hosts)
	}

	for _, scheme := range []string{"http", "https"} {
		proxy, err := proxyFor(&url.URL{Scheme: scheme, Host: uploadHost})
		if err != nil || proxy == nil || proxy.Hostname() == "" {
			continue
		}

		options = append(options, "-D"+scheme+".proxyHost="+proxy.Hostname())

		if port := proxy.Port(); port != "" {
			options = append(options, "-D"+scheme+".proxyPort="+port)
		}
	}

	return options
}

// proxyConfigFrom reads the proxy variables the way net/http does, upper case first.
func proxyConfigFrom(env environ.Environ) *httpproxy.Config {
	get := func(names ...string) string {
		for _, name := range names {
			if value, ok := env.Lookup(name); ok && value != "" {
				return value
			}
		}

		return ""
	}

	return &httpproxy.Config{
		HTTPProxy:  get("HTTP_PROXY", "http_proxy"),
		HTTPSProxy: get("HTTPS_PROXY", "https_proxy"),
		NoProxy:    get("NO_PROXY", "no_proxy"),
	}
}

// nonProxyHosts converts a NO_PROXY list to the JVM's '|' separated syntax,
// where domain suffixes are written as wildcards.
func nonProxyHosts(noProxy string) string {
	var hosts []string

	for _, entry := range strings.Split(noProxy, ",") {
		entry = strings.TrimSpace(entry)

		switch {
		case entry == "":
			continue
		case entry == "*":
			hosts = append(hosts, "*")
		case strings.HasPrefix(entry, "."):
			hosts = append(hosts, "*"+entry)
		default:
			hosts = append(hosts, entry)
		}
	}

	return strings.Join(hosts, "|")
}

// MaskCommand hides the value following -apiSecret for logging.
func MaskCommand(command []string) []string {
	masked := slices.Clone(command)

	for i := 0; i < len(masked)-1; i++ {
		if masked[i] == "-apiSecret" {
			masked[i+1] = secretMask
		}
	}

	return masked
}
