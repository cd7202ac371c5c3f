// Package config provides configuration management for netbot.
//
// # Overview
//
// Configuration is loaded with Viper from a YAML file and environment
// variables. The file lives at ~/.netbot/config.yaml and is created with
// defaults on first use.
//
// # Environment Variables
//
// Every key present in the file can be overridden with the NETBOT_ prefix.
// Nested fields are separated by underscores.
//
// Examples:
//   - NETBOT_LLM_DEFAULT_PROVIDER=gemini
//   - NETBOT_LLM_PROVIDERS_GEMINI_API_KEY=...
//   - NETBOT_ROUTER_STRATEGY=classifier
//   - NETBOT_LOGGING_LEVEL=debug
//
// # Model Roles
//
// A deployment can run every model job on one backend or split them:
//
//   - generator: writes the persona answer
//   - router: returns the JSON routing decision
//   - classifier: small tool-calling model (default llama3.2:1b)
//   - decider: picks the retrieval dataset
//   - embedder: embeds passages and queries
//
// A role without a provider uses llm.default_provider. A role model
// overrides the provider's model.
//
// # Validation
//
// Validate is called by the CLI before anything starts; an invalid file is
// a startup error.
package config
