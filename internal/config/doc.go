// Package config provides configuration management for genflow.
//
// Configuration is loaded from environment variables using the env package,
// after an optional .env file in the working directory. All configuration
// values have sensible defaults for development use, except the LLM API key
// required by the default llm executor mode.
//
// Example usage:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	fmt.Printf("HTTP server will listen on %s\n", cfg.GetHTTPAddr())
package config
