package auth

// HTTP header constants for authentication.
const (
	// HeaderAuthorization is the Authorization header name.
	HeaderAuthorization = "Authorization"

	// HeaderWWWAuthenticate is the WWW-Authenticate header name.
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// HeaderContentType is the Content-Type header name.
	HeaderContentType = "Content-Type"
)

// Identity headers set by the forward-auth endpoint.
const (
	HeaderAuthSubject = "X-Auth-Subject"
	HeaderAuthMethod  = "X-Auth-Method"
	HeaderAuthKeyID   = "X-Auth-Key-Id"
)

// ContentTypeJSON is the JSON content type.
const ContentTypeJSON = "application/json"

// AuthSchemeBearer is the challenge sent with every rejection.
const AuthSchemeBearer = "Bearer"

// unauthenticatedMessage is the only failure text clients see.
const unauthenticatedMessage = "unauthenticated"

// gRPC metadata keys. Metadata keys are lower case.
const (
	metadataAuthorization = "authorization"
	metadataALB           = "x-amzn-oidc-data"
	metadataAPIKey        = "x-api-key"
)
