// Package config provides centralized configuration management for catpipe.
// It loads configuration from multiple sources, validates it, and exposes a
// typed struct to the rest of the application.
//
// # Configuration Sources
//
// Later sources override earlier ones:
//
//	1. Default values (Default())
//	2. A YAML file (catpipe.yaml or configs/catpipe.yaml)
//	3. Environment variables
//
// # Environment Variables
//
// Variables follow the pattern CATPIPE_<SECTION>_<FIELD>:
//
//	CATPIPE_DATASET_PATH=Test00.txt
//	CATPIPE_SPLIT_RATIOS=0.6,0.2,0.2
//	CATPIPE_SPLIT_STRICT_RATIOS=false
//	CATPIPE_MODEL_KIND=tree
//	CATPIPE_RENDER_DEPTH=3
//	CATPIPE_LOGGING_LEVEL=debug
//
// # Validation
//
// Struct tags are checked with go-playground/validator; split ratios are
// additionally checked to sum to one, exactly when strict_ratios is set and
// within tolerance otherwise.
package config
