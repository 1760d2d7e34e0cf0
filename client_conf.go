package appface

import (
	"bufio"
	"os"
	"runtime"
	"strings"

	"github.com/goccy/go-yaml"
)

// ClientConfig selects how the Face reaches the forwarder.
type ClientConfig struct {
	TransportUri string `json:"transport"`
}

// GetClientConfig resolves the client configuration. Sources in order
// of increasing priority: built-in default, the config directories
// (/etc/ndn, /usr/local/etc/ndn, $HOME/.ndn, each overriding the one
// before; within one directory `client.yml` overrides `client.conf`),
// and the NDN_CLIENT_TRANSPORT environment variable.
func GetClientConfig() ClientConfig {
	transportUri := "unix:///run/nfd/nfd.sock"
	if runtime.GOOS == "darwin" {
		transportUri = "unix:///var/run/nfd/nfd.sock"
	}
	config := ClientConfig{
		TransportUri: transportUri,
	}

	// Order of increasing priority
	configDirs := []string{
		"/etc/ndn",
		"/usr/local/etc/ndn",
		os.Getenv("HOME") + "/.ndn",
	}

	for _, dir := range configDirs {
		readConfFile(dir+"/client.conf", &config)
		readYamlFile(dir+"/client.yml", &config)
	}

	// Environment variable overrides config files
	if transportEnv := os.Getenv("NDN_CLIENT_TRANSPORT"); transportEnv != "" {
		config.TransportUri = transportEnv
	}

	return config
}

// readConfFile reads the ndn-cxx style key=value client.conf format.
func readConfFile(filename string, config *ClientConfig) {
	file, err := os.OpenFile(filename, os.O_RDONLY, 0)
	if err != nil {
		return
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if strings.HasPrefix(line, ";") { // comment
			continue
		}

		transport := strings.TrimPrefix(line, "transport=")
		if transport != line {
			config.TransportUri = transport
		}
	}
}

func readYamlFile(filename string, config *ClientConfig) {
	buf, err := os.ReadFile(filename)
	if err != nil {
		return
	}

	parsed := ClientConfig{}
	if err := yaml.Unmarshal(buf, &parsed); err != nil {
		return
	}
	if parsed.TransportUri != "" {
		config.TransportUri = parsed.TransportUri
	}
}
