package config

// Constants defining default values for application configuration
const (
	DefaultDBPath = "./iamn.db"

	DefaultServerPort = 8080
	DefaultServerHost = "" // Empty string means all interfaces

	DefaultInterval           = 15 // Minutes between pipeline cycles
	DefaultMaxArticlesPerFeed = 3
	DefaultAPICallDelay       = 5  // Seconds between articles
	DefaultRetentionHours     = 12 // Hours to keep articles before purging
	DefaultCleanupInterval    = 24 // Hours between retention runs

	DefaultExtractTimeoutSeconds    = 15
	DefaultGenerationTimeoutSeconds = 60

	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

	DefaultGeminiBaseURL = "https://generativelanguage.googleapis.com"
	DefaultGeminiModel   = "gemini-1.5-flash"

	DefaultPublisherName    = "Máquina Nerd"
	DefaultPublisherLogoURL = "https://www.maquinanerd.com.br/wp-content/uploads/2023/11/logo-maquina-nerd-400px.png"
	DefaultAttribution      = "Via {domain}"
	DefaultImagesMode       = ImagesHotlink

	DefaultLogLevel = "info"
)

// Image handling modes for the featured image of a published post.
const (
	ImagesHotlink = "hotlink"
	ImagesNone    = "none"
)

// Credential environment variables are GEMINI_<CATEGORY>_<N> with N in [1, MaxCredentialsPerCategory].
const (
	CredentialEnvPrefix       = "GEMINI_"
	MaxCredentialsPerCategory = 9
)
