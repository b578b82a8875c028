package email

// Config selects and configures the email sender. When PostmarkServerToken is
// empty the development sender writes messages to DevOutputDir instead.
type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"EMAIL_SENDER" envDefault:"notifications@schoolkit.local"`
	SupportEmail         string `env:"EMAIL_SUPPORT" envDefault:"support@schoolkit.local"`
	DevOutputDir         string `env:"EMAIL_DEV_DIR" envDefault:"./tmp/emails"`
}
