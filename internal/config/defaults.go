package config

// Defaults returns the default configuration. Secret-bearing fields reference
// environment variables so a freshly written config file never contains
// credentials; Load expands them at startup.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel: "info",
		},
		Server: ServerConfig{
			Host:        "0.0.0.0",
			Port:        8080,
			WebhookPath: "/webhook/whatsapp",
		},
		WhatsApp: WhatsAppConfig{
			VerifyToken:   "${VERIFY_TOKEN:-undefined_token}",
			AccessToken:   "${ACCESS_TOKEN}",
			PhoneNumberID: "${PHONE_NUMBER_ID}",
			APIVersion:    "v22.0",
		},
		Agent: AgentConfig{
			AgentID: "${BEDROCK_AGENT_ID}",
			// Bedrock's well-known draft alias; override once an alias is
			// published.
			AliasID:               "TSTALIASID",
			Region:                "${AWS_REGION:-us-east-1}",
			ReadTimeoutSeconds:    600,
			ConnectTimeoutSeconds: 10,
		},
		Audit: AuditConfig{
			Enabled: true,
			Backend: "s3",
			Bucket:  "${BUCKET_NAME:-your-bucket-name}",
			DBPath:  "~/.wabridge/audit.db",
		},
		Metrics: MetricsConfig{
			Enabled:  true,
			Endpoint: "/metrics",
		},
	}
}
