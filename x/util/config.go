package util

import (
	"log"
	"os"

	"github.com/go-yaml/yaml"
)

// Config is hotaru base configuration
type Config struct {
	Server     Server     `yaml:"server"`
	Federation Federation `yaml:"federation"`
	Queue      Queue      `yaml:"queue"`
	Mail       Mail       `yaml:"mail"`
	NodeInfo   NodeInfo   `yaml:"nodeinfo"`
}

type Server struct {
	Dsn           string `yaml:"dsn"`
	RedisAddr     string `yaml:"redisAddr"`
	MemcachedAddr string `yaml:"memcachedAddr"`
	EnableTrace   bool   `yaml:"enableTrace"`
	TraceEndpoint string `yaml:"traceEndpoint"`
}

type Federation struct {
	Host                   string   `yaml:"host"`
	Disabled               bool     `yaml:"disabled"`
	AllowedPrivateNetworks []string `yaml:"allowedPrivateNetworks"` // CIDR blocks
	MaintainerEmail        string   `yaml:"maintainerEmail"`
}

type Queue struct {
	Concurrency        int   `yaml:"concurrency"`
	InboxMaxAttempts   int   `yaml:"inboxMaxAttempts"`
	DeliverMaxAttempts int   `yaml:"deliverMaxAttempts"`
	BaseDelayMs        int64 `yaml:"baseDelayMs"`
	DeliverLimitPerSec int   `yaml:"deliverLimitPerSec"`
}

type Mail struct {
	SmtpAddr string `yaml:"smtpAddr"` // host:port, empty disables mail
	SmtpUser string `yaml:"smtpUser"`
	SmtpPass string `yaml:"smtpPass"`
	From     string `yaml:"from"`
}

// NodeInfo is ActivityPub NodeInfo
type NodeInfo struct {
	OpenRegistrations bool `yaml:"openRegistrations"`
	Metadata          struct {
		NodeName        string `yaml:"nodeName"`
		NodeDescription string `yaml:"nodeDescription"`
		Maintainer      struct {
			Name  string `yaml:"name"`
			Email string `yaml:"email"`
		} `yaml:"maintainer"`
		ThemeColor string `yaml:"themeColor"`
	} `yaml:"metadata"`
}

// Load loads hotaru config from given path
func (c *Config) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		log.Fatal("failed to open configuration file:", err)
		return err
	}
	defer f.Close()

	err = yaml.NewDecoder(f).Decode(&c)
	if err != nil {
		log.Fatal("failed to load configuration file:", err)
		return err
	}

	return nil
}
