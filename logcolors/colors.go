package logcolors

// ANSI color codes for log prefixes
const (
	Reset  = "\033[0m"
	Green  = "\033[32m"
	Blue   = "\033[34m"
	Purple = "\033[35m"
	Cyan   = "\033[36m"
	Red    = "\033[31m"
	Yellow = "\033[33m"

	BrightGreen = "\033[92m"
	BrightBlue  = "\033[94m"
	BrightCyan  = "\033[96m"
)

// Cache-related log prefixes
const (
	LogCacheInit     = Blue + "[Cache:Init]" + Reset
	LogCache         = Blue + "[Cache]" + Reset
	LogCacheBackup   = Blue + "[Cache:Backup]" + Reset
	LogCacheClear    = Blue + "[Cache:Clear]" + Reset
	LogCacheLyrics   = Green + "[Cache:Lyrics]" + Reset
	LogCacheNegative = Cyan + "[Cache:Negative]" + Reset
	LogCacheResolve  = BrightBlue + "[Cache:Resolve]" + Reset
)

// Rate limiting log prefixes
const (
	LogRateLimit = Purple + "[RateLimit]" + Reset
	LogAPIKey    = Purple + "[APIKey]" + Reset
)

// CircuitBreakerPrefix returns a colored circuit breaker prefix with the given name
func CircuitBreakerPrefix(name string) string {
	return Purple + "[CircuitBreaker:" + name + "]" + Reset
}

// StepPrefix returns a colored prefix for a single resolver step
func StepPrefix(step string) string {
	return Cyan + "[Resolve:" + step + "]" + Reset
}

// Server/Init log prefixes
const (
	LogServer = Green + "[Server]" + Reset
	LogConfig = Cyan + "[Config]" + Reset
	LogHTTP   = Cyan + "[HTTP]" + Reset
)

// Notification log prefixes
const (
	LogNotifier = Cyan + "[Notifier]" + Reset
)

// Pipeline log prefixes
const (
	LogResolve    = BrightCyan + "[Resolve]" + Reset
	LogToken      = Cyan + "[Token]" + Reset
	LogCatalog    = Blue + "[Catalog]" + Reset
	LogPagination = Cyan + "[Pagination]" + Reset
	LogLyrics     = Blue + "[Lyrics]" + Reset
	LogBatch      = BrightGreen + "[Batch]" + Reset
	LogDownload   = Green + "[Download]" + Reset
)
