package constants

import "time"

// OData system query options
const (
	QueryFilter  = "$filter"
	QuerySelect  = "$select"
	QueryExpand  = "$expand"
	QueryOrderBy = "$orderby"
	QueryTop     = "$top"
	QuerySkip    = "$skip"
	QueryCount   = "$count"
)

// OData response annotations
const (
	ODataNextLink = "@odata.nextLink"
	ODataCount    = "@odata.count"
	ODataContext  = "@odata.context"
	ODataETag     = "@odata.etag"
	ODataValue    = "value"
)

// HTTP methods supported by the Business Central API
const (
	GET    = "GET"
	POST   = "POST"
	PATCH  = "PATCH"
	DELETE = "DELETE"
)

// HTTP headers
const (
	ContentType   = "Content-Type"
	Accept        = "Accept"
	Authorization = "Authorization"
	UserAgent     = "User-Agent"
	IfMatch       = "If-Match"
	RetryAfter    = "Retry-After"
)

// Content types
const (
	ContentTypeJSON    = "application/json"
	ContentTypeXML     = "application/xml"
	ContentTypeFormURL = "application/x-www-form-urlencoded"
)

// Service endpoints
const (
	MetadataEndpoint  = "$metadata"
	BatchEndpoint     = "$batch"
	CompaniesEndpoint = "companies"
)

// Business Central and Microsoft identity platform hosts
const (
	APIHost   = "https://api.businesscentral.dynamics.com"
	LoginHost = "https://login.microsoftonline.com"
	APIScope  = "https://api.businesscentral.dynamics.com/.default"
	// OfflineAccessScope makes the token endpoint issue a refresh token.
	OfflineAccessScope = "offline_access"
)

// Default values
const (
	DefaultUserAgent      = "BC-MCP-Bridge/1.0 (Go)"
	DefaultRedirectPort   = 3847
	DefaultAPIVersion     = "v2.0"
	DefaultMaxPageSize    = 50
	DefaultMaxRetries     = 5
	DefaultRequestTimeout = 480 * time.Second
	DefaultMaxConcurrent  = 5
	DefaultMaxPerWindow   = 6000
	DefaultWindow         = 5 * time.Minute
	DefaultCallbackWait   = 5 * time.Minute
	DefaultRefreshBuffer  = 5 * time.Minute
	MaxBatchOperations    = 100
	TokenDirName          = "bc-mcp"
	TokenFileName         = "tokens.json"
	CallbackPath          = "/callback"
)

// Tool name prefix shared by every generated and global tool
const ToolPrefix = "bc_"

// Global tool names
const (
	ToolListCompanies   = "bc_list_companies"
	ToolSelectCompany   = "bc_select_company"
	ToolDiscoverAPIs    = "bc_discover_custom_apis"
	ToolListNextPage    = "bc_list_next_page"
	ToolLogout          = "bc_logout"
	ErrorResponsePrefix = "Error: "
)

// MCP-specific constants
const (
	MCPProtocolVersion = "2024-11-05"
	MCPServerName      = "bc-mcp-bridge"
	MCPServerVersion   = "1.0.0"
)
