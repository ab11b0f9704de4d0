package config

const (
	EnvPrefix = "BOXLINE"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"

	EnvDBDSN  = "BOXLINE_DB_DSN"
	EnvDBHost = "BOXLINE_DB_HOST"
	EnvDBUser = "BOXLINE_DB_USER"
	EnvDBName = "BOXLINE_DB_NAME"
)

var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
