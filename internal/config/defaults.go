package config

// DefaultServerURL is the task server used when nothing is configured.
const DefaultServerURL = "http://127.0.0.1:7070"
