package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// ProviderType identifies which cloud adapter manages the instance
type ProviderType string

const (
	ProviderAWS          ProviderType = "aws"
	ProviderDigitalOcean ProviderType = "digitalocean"
)

// AWSConfig contains EC2 connection parameters
type AWSConfig struct {
	Region    string `yaml:"region"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

// DigitalOceanConfig contains droplet connection parameters
type DigitalOceanConfig struct {
	Token  string `yaml:"token"`
	Region string `yaml:"region"`
}

// Config contains application configuration
type Config struct {
	// Cloud provider selection and credentials
	Provider     ProviderType        `yaml:"provider"`
	AWS          *AWSConfig          `yaml:"aws"`
	DigitalOcean *DigitalOceanConfig `yaml:"digitalocean"`

	// NamePrefix scopes describe queries: every instance this tool manages
	// carries a Name tag derived from it. Exactly one logical instance
	// identity exists per state directory.
	NamePrefix string `yaml:"name_prefix"`

	// Instance parameters
	InstanceType string `yaml:"instance_type"`
	ImageID      string `yaml:"image_id"`

	// SSH access for health probes and diagnostics
	SSHUser   string `yaml:"ssh_user"`
	SSHKeyDir string `yaml:"ssh_key_dir"`

	// HourlyRate is the on-demand price used for cost estimation, in USD
	HourlyRate float64 `yaml:"hourly_rate"`

	// StateDir holds the persisted instance/lifecycle/cost documents and
	// the advisory lock
	StateDir string `yaml:"state_dir"`

	// Timeouts, in seconds
	LockTimeoutS   int `yaml:"lock_timeout_s"`
	HealthCeilingS int `yaml:"health_ceiling_s"`
	PollCeilingS   int `yaml:"poll_ceiling_s"`

	// ServicePort is the HTTPS port of the inference service health
	// endpoint; 0 disables the service readiness probe
	ServicePort int `yaml:"service_port"`

	// ServiceLogPath is the remote log file fetched by the diag command
	ServiceLogPath string `yaml:"service_log_path"`
}

// Region returns the active provider's region identifier
func (c *Config) Region() string {
	switch c.Provider {
	case ProviderAWS:
		if c.AWS != nil {
			return c.AWS.Region
		}
	case ProviderDigitalOcean:
		if c.DigitalOcean != nil {
			return c.DigitalOcean.Region
		}
	}
	return ""
}

// LockTimeout returns the lock acquisition timeout
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutS) * time.Second
}

// HealthCeiling returns the total grace period for health probing
func (c *Config) HealthCeiling() time.Duration {
	return time.Duration(c.HealthCeilingS) * time.Second
}

// PollCeiling returns the maximum time to wait for a provider state change
func (c *Config) PollCeiling() time.Duration {
	return time.Duration(c.PollCeilingS) * time.Second
}

// Load loads configuration from YAML file with environment overrides.
// Validation failures abort before any lock is taken or provider called.
func Load() (*Config, error) {
	config := &Config{
		Provider:       ProviderAWS,
		AWS:            &AWSConfig{Region: "us-west-2"},
		NamePrefix:     "rnnt",
		InstanceType:   "g4dn.xlarge",
		SSHUser:        "ubuntu",
		SSHKeyDir:      ".gpuctl/keys",
		HourlyRate:     0.526, // g4dn.xlarge on-demand, us-west-2
		StateDir:       ".gpuctl",
		LockTimeoutS:   10,
		HealthCeilingS: 180,
		PollCeilingS:   300,
		ServicePort:    8443,
		ServiceLogPath: "/opt/rnnt/logs/rnnt-server.log",
	}

	// Try to load from YAML file first
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "gpuctl.yaml"
	}

	if _, err := os.Stat(configPath); err == nil {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %v", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %v", err)
		}
	}

	// Expand environment variables in string fields
	config.NamePrefix = os.ExpandEnv(config.NamePrefix)
	config.ImageID = os.ExpandEnv(config.ImageID)
	config.SSHUser = os.ExpandEnv(config.SSHUser)
	config.SSHKeyDir = os.ExpandEnv(config.SSHKeyDir)
	config.StateDir = os.ExpandEnv(config.StateDir)

	// Override with environment variables if set
	if config.AWS != nil {
		if region := os.Getenv("AWS_REGION"); region != "" {
			config.AWS.Region = region
		}
		if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
			config.AWS.AccessKey = key
		}
		if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
			config.AWS.SecretKey = secret
		}
	}
	if config.DigitalOcean != nil {
		if token := os.Getenv("DO_TOKEN"); token != "" {
			config.DigitalOcean.Token = token
		}
	}
	if dir := os.Getenv("GPUCTL_STATE_DIR"); dir != "" {
		config.StateDir = dir
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) validate() error {
	switch c.Provider {
	case ProviderAWS:
		if c.AWS == nil || c.AWS.Region == "" {
			return fmt.Errorf("aws region is required (set aws.region in config file or AWS_REGION environment variable)")
		}
	case ProviderDigitalOcean:
		if c.DigitalOcean == nil || c.DigitalOcean.Token == "" {
			return fmt.Errorf("digitalocean token is required (set digitalocean.token in config file or DO_TOKEN environment variable)")
		}
		if c.DigitalOcean.Region == "" {
			return fmt.Errorf("digitalocean region is required")
		}
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Provider)
	}

	if c.ImageID == "" {
		return fmt.Errorf("image_id is required (the prebuilt GPU inference image)")
	}
	if c.NamePrefix == "" {
		return fmt.Errorf("name_prefix is required")
	}
	if c.HourlyRate <= 0 {
		return fmt.Errorf("hourly_rate must be positive, got %v", c.HourlyRate)
	}
	if c.StateDir == "" {
		return fmt.Errorf("state_dir is required")
	}
	return nil
}
