// Package pipeline loads pipeline definitions from YAML and keeps the
// catalog of pipelines processes can be started from. The app_generation
// pipeline is built in.
package pipeline
