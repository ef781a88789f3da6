package core

import (
	"sort"
	"strings"
)

// AttributeType describes how values of an attribute compare.
type AttributeType int

const (
	// AttrString is free text, compared for equality only
	AttrString AttributeType = iota
	// AttrBool holds "true" or "false"
	AttrBool
	// AttrEnum holds one value out of a closed set
	AttrEnum
	// AttrOrdered is an enum whose values have a total order
	AttrOrdered
)

func (t AttributeType) String() string {
	switch t {
	case AttrString:
		return "string"
	case AttrBool:
		return "bool"
	case AttrEnum:
		return "enum"
	case AttrOrdered:
		return "ordered"
	default:
		return "unknown"
	}
}

// AttributeSpec declares one attribute that rules may reference.
type AttributeSpec struct {
	Name string
	Type AttributeType
	// Values holds the allowed values. For AttrOrdered they are listed lowest first.
	Values []string
}

// Canonical maps value onto its declared spelling. The undefined sentinel is
// accepted by every attribute.
func (s AttributeSpec) Canonical(value string) (string, bool) {
	v := strings.TrimSpace(value)
	if v == "" || strings.EqualFold(v, UndefinedValue) {
		return UndefinedValue, true
	}
	switch s.Type {
	case AttrString:
		return v, true
	case AttrBool:
		switch strings.ToLower(v) {
		case "true", "yes":
			return "true", true
		case "false", "no":
			return "false", true
		}
		return "", false
	default:
		for _, allowed := range s.Values {
			if strings.EqualFold(allowed, v) {
				return allowed, true
			}
		}
		return "", false
	}
}

// Rank returns the position of value in an ordered attribute. The undefined
// sentinel ranks below every declared value.
func (s AttributeSpec) Rank(value string) (int, bool) {
	if s.Type != AttrOrdered {
		return 0, false
	}
	if value == UndefinedValue {
		return -1, true
	}
	for i, allowed := range s.Values {
		if allowed == value {
			return i, true
		}
	}
	return 0, false
}

// Attribute value sets shared by several kinds.
var (
	AuthenticationMethods = []string{
		"anonymous", "credentials", "basic", "digest", "openid", "ldap", "ntlm",
		"kerberos", "certificate", "saml", "bearer", "s3", "radius",
	}

	// BoundaryCategories is ordered from the most closed perimeter to the open internet.
	BoundaryCategories = []string{
		"closedPerimeter", "corporateNetwork", "demilitarizedZone", "globalNetwork",
	}

	Protocols = []string{
		"http", "https", "tcp", "udp", "tls", "grpc", "amqp", "mqtt", "smtp", "ftp",
		"sftp", "ssh", "jdbc", "odbc", "ldap", "ldaps", "websocket", "dns",
	}

	DataSensitivities = []string{"public", "internal", "confidential", "secret"}

	ComponentTypes = []string{
		"process", "webApplication", "mobileApplication", "desktopApplication",
		"webService", "database", "datastore", "queue", "cache", "externalService",
		"identityProvider", "loadBalancer",
	}

	ActorTypes = []string{"user", "administrator", "service", "anonymous", "externalSystem"}
)

func boundaryAttrs() []AttributeSpec {
	return []AttributeSpec{
		{Name: "boundary", Type: AttrString},
		{Name: "boundaryCategory", Type: AttrOrdered, Values: BoundaryCategories},
	}
}

var attributeSchema = buildSchema(map[ElementKind][]AttributeSpec{
	KindComponent: append([]AttributeSpec{
		{Name: "type", Type: AttrEnum, Values: ComponentTypes},
		{Name: "technology", Type: AttrString},
		{Name: "authenticationMethod", Type: AttrEnum, Values: AuthenticationMethods},
		{Name: "authorization", Type: AttrBool},
		{Name: "inputValidation", Type: AttrBool},
		{Name: "outputEncoding", Type: AttrBool},
		{Name: "logging", Type: AttrBool},
		{Name: "encryptedAtRest", Type: AttrBool},
		{Name: "storesCredentials", Type: AttrBool},
		{Name: "dataSensitivity", Type: AttrOrdered, Values: DataSensitivities},
	}, boundaryAttrs()...),
	KindDataFlow: append([]AttributeSpec{
		{Name: "source", Type: AttrString},
		{Name: "target", Type: AttrString},
		{Name: "protocol", Type: AttrEnum, Values: Protocols},
		{Name: "encrypted", Type: AttrBool},
		{Name: "authenticationMethod", Type: AttrEnum, Values: AuthenticationMethods},
		{Name: "authorization", Type: AttrBool},
		{Name: "dataSensitivity", Type: AttrOrdered, Values: DataSensitivities},
	}, boundaryAttrs()...),
	KindBoundary: {
		{Name: "category", Type: AttrOrdered, Values: BoundaryCategories},
	},
	KindActor: append([]AttributeSpec{
		{Name: "type", Type: AttrEnum, Values: ActorTypes},
		{Name: "trusted", Type: AttrBool},
		{Name: "authenticationMethod", Type: AttrEnum, Values: AuthenticationMethods},
	}, boundaryAttrs()...),
})

func buildSchema(specs map[ElementKind][]AttributeSpec) map[ElementKind]map[string]AttributeSpec {
	schema := make(map[ElementKind]map[string]AttributeSpec, len(specs))
	for kind, list := range specs {
		byName := make(map[string]AttributeSpec, len(list))
		for _, spec := range list {
			byName[spec.Name] = spec
		}
		schema[kind] = byName
	}
	return schema
}

// LookupAttribute returns the declaration of an attribute for an element kind.
func LookupAttribute(kind ElementKind, name string) (AttributeSpec, bool) {
	spec, ok := attributeSchema[kind][name]
	return spec, ok
}

// AttributeNames lists the attributes declared for kind, sorted by name.
func AttributeNames(kind ElementKind) []string {
	names := make([]string, 0, len(attributeSchema[kind]))
	for name := range attributeSchema[kind] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
