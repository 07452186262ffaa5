// Package sftools declares the read-only Salesforce lookup tools: Apex class
// retrieval, metadata search and sObject describe.
package sftools

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/harun/sfagent/pkg/cache"
	"github.com/harun/sfagent/pkg/salesforce"
	"github.com/harun/sfagent/pkg/toolexecutor"
	"github.com/rs/zerolog"
)

// Tool names as advertised to the model
const (
	GetApexClass    = "get_apex_class"
	SearchMetadata  = "search_metadata"
	GetObjectSchema = "get_object_schema"
)

// Cache lifetimes. Source code changes more often than object schemas.
const (
	ApexClassTTL    = 300 * time.Second
	ObjectSchemaTTL = 600 * time.Second
)

const searchLimit = 100

// searchableTypes maps each metadata category to its Tooling API query
var searchableTypes = map[string]string{
	"ApexClass":   "SELECT Id, Name FROM ApexClass WHERE Name LIKE '%%%s%%' LIMIT %d",
	"ApexTrigger": "SELECT Id, Name, TableEnumOrId FROM ApexTrigger WHERE Name LIKE '%%%s%%' LIMIT %d",
}

var searchOrder = []string{"ApexClass", "ApexTrigger"}

var objectAPIName = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// ClientSource hands out live backend clients
type ClientSource interface {
	Client(ctx context.Context) (*salesforce.Client, error)
}

// CacheObserver records cache lookups
type CacheObserver interface {
	ObserveCacheLookup(tool string, hit bool)
}

// Deps are the shared services the handlers consult
type Deps struct {
	Sessions ClientSource
	Cache    *cache.TTLCache
	Observer CacheObserver
	Logger   zerolog.Logger
}

// ApexClassInput is the argument of get_apex_class
type ApexClassInput struct {
	Name string `json:"name"`
}

// SearchMetadataInput is the argument of search_metadata
type SearchMetadataInput struct {
	Q     string   `json:"q"`
	Types []string `json:"types"`
}

// ObjectSchemaInput is the argument of get_object_schema
type ObjectSchemaInput struct {
	ObjectAPIName string `json:"object_api_name"`
}

type handlers struct {
	deps Deps
}

// Register declares the three lookup tools on reg
func Register(reg *toolexecutor.Registry, deps Deps) error {
	if deps.Sessions == nil {
		return fmt.Errorf("session source is required")
	}
	if deps.Cache == nil {
		return fmt.Errorf("cache is required")
	}

	h := &handlers{deps: deps}

	if err := toolexecutor.Declare(reg, toolexecutor.ToolDefinition{
		Name:        GetApexClass,
		Description: "Retrieve full source code for a specific Apex class by exact Name.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "name", Type: "string", Description: "Exact Apex class name", Required: true},
		},
	}, h.getApexClass); err != nil {
		return err
	}

	if err := toolexecutor.Declare(reg, toolexecutor.ToolDefinition{
		Name:        SearchMetadata,
		Description: "Search code metadata by name across ApexClass and ApexTrigger.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "q", Type: "string", Description: "Substring to search"},
			{Name: "types", Type: "array", Items: "string", Enum: searchOrder, Description: "Optional list of types to restrict search"},
		},
	}, h.searchMetadata); err != nil {
		return err
	}

	return toolexecutor.Declare(reg, toolexecutor.ToolDefinition{
		Name:        GetObjectSchema,
		Description: "Return the full sObject describe for a Salesforce object API name.",
		Parameters: []toolexecutor.ToolParameter{
			{Name: "object_api_name", Type: "string", Description: "API name like Account, Contact, CustomObject__c", Required: true},
		},
	}, h.getObjectSchema)
}

func (h *handlers) getApexClass(ctx context.Context, in ApexClassInput) (interface{}, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, fmt.Errorf("name cannot be empty")
	}

	key := cache.Key(GetApexClass, in)
	if cached, ok := h.lookup(GetApexClass, key); ok {
		return cached, nil
	}

	client, err := h.deps.Sessions.Client(ctx)
	if err != nil {
		return nil, err
	}

	soql := fmt.Sprintf("SELECT Id, Name, Body FROM ApexClass WHERE Name = '%s' LIMIT 1", escapeSOQL(in.Name))
	res, err := client.ToolingQuery(ctx, soql)
	if err != nil {
		return nil, err
	}

	out := map[string]interface{}{}
	if len(res.Records) > 0 {
		out = res.Records[0]
	}

	h.deps.Cache.Set(key, out, ApexClassTTL)
	return out, nil
}

func (h *handlers) searchMetadata(ctx context.Context, in SearchMetadataInput) (interface{}, error) {
	in.Q = strings.TrimSpace(in.Q)
	in.Types = normalizeTypes(in.Types)

	key := cache.Key(SearchMetadata, in)
	if cached, ok := h.lookup(SearchMetadata, key); ok {
		return cached, nil
	}

	client, err := h.deps.Sessions.Client(ctx)
	if err != nil {
		return nil, err
	}

	term := escapeLike(in.Q)
	results := map[string]interface{}{}
	for _, t := range in.Types {
		res, err := client.ToolingQuery(ctx, fmt.Sprintf(searchableTypes[t], term, searchLimit))
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", t, err)
		}
		results[t] = res.Records
	}

	h.deps.Cache.Set(key, results, 0)
	return results, nil
}

func (h *handlers) getObjectSchema(ctx context.Context, in ObjectSchemaInput) (interface{}, error) {
	in.ObjectAPIName = strings.TrimSpace(in.ObjectAPIName)
	if !objectAPIName.MatchString(in.ObjectAPIName) {
		return nil, fmt.Errorf("invalid object API name %q", in.ObjectAPIName)
	}

	key := cache.Key(GetObjectSchema, in)
	if cached, ok := h.lookup(GetObjectSchema, key); ok {
		return cached, nil
	}

	client, err := h.deps.Sessions.Client(ctx)
	if err != nil {
		return nil, err
	}

	res, err := client.Describe(ctx, in.ObjectAPIName)
	if err != nil {
		return nil, err
	}

	h.deps.Cache.Set(key, res, ObjectSchemaTTL)
	return res, nil
}

func (h *handlers) lookup(tool, key string) (interface{}, bool) {
	value, ok := h.deps.Cache.Get(key)
	if h.deps.Observer != nil {
		h.deps.Observer.ObserveCacheLookup(tool, ok)
	}
	if ok {
		h.deps.Logger.Debug().Str("tool", tool).Str("key", key).Msg("Cache hit")
	}
	return value, ok
}

// normalizeTypes defaults to every category and orders the requested ones
// canonically so equivalent requests share a cache key.
func normalizeTypes(types []string) []string {
	if len(types) == 0 {
		return append([]string(nil), searchOrder...)
	}

	requested := map[string]bool{}
	for _, t := range types {
		requested[t] = true
	}

	out := make([]string, 0, len(requested))
	for _, t := range searchOrder {
		if requested[t] {
			out = append(out, t)
		}
	}
	return out
}

var soqlEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `'`, `\'`, `%`, `\%`, `_`, `\_`)

func escapeSOQL(s string) string {
	return soqlEscaper.Replace(s)
}

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
