package config

// EnvPrefix is passed to envconfig; individual fields carry fully
// qualified envconfig tags so the prefix stays empty.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvTenantID = "TERMINALD_TENANT_ID"
	EnvStoreID  = "TERMINALD_STORE_ID"
)
