package interfaces

// URLGroup is one labelled URL field reported by a schema adapter
type URLGroup struct {
	XPath    string
	Label    string
	URLs     []string
	MinCount int // 0 = no lower bound
	MaxCount int // 0 = unbounded
	Retrieve bool

	// Mode is "exact" or "standard"; empty means standard
	Mode string
}

// EmailGroup is one labelled email field reported by a schema adapter
type EmailGroup struct {
	XPath    string
	Label    string
	Emails   []string
	MinCount int
	MaxCount int
}

// SchemaAdapter maps one parsed metadata record to the values the auditor
// validates. Implementations are format specific.
type SchemaAdapter interface {
	// ExtractIdentity returns every id occurrence; validators enforce exactly one
	ExtractIdentity() ([]string, error)
	ExtractURLGroups() ([]URLGroup, error)
	ExtractEmailGroups() ([]EmailGroup, error)
}

// SchemaRegistry resolves a metadata-format tag to an adapter for raw file content
type SchemaRegistry interface {
	// Adapter parses content and returns its adapter
	Adapter(format string, content []byte) (SchemaAdapter, error)

	// Extension returns the file extension scanned for the format (e.g. ".xml")
	Extension(format string) (string, error)

	Formats() []string
}
