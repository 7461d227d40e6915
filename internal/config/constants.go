package config

// Application constants
const (
	AppName    = "catpipe"
	AppVersion = "1.0.0"

	// Dataset defaults
	DefaultDatasetPath   = "Test00.txt"
	DefaultTargetName    = "Label"
	DefaultFeaturePrefix = "Feature"
	LabelTerminator      = ";"

	// Split defaults
	DefaultSeed           int64 = 42
	DefaultRatioTolerance       = 1e-9

	// Render defaults
	DefaultTreeDepth = 3

	// Directories, relative to the working directory
	DefaultImagesDir  = "images"
	DefaultReportsDir = "reports"
	DefaultLogsDir    = "logs"
)
