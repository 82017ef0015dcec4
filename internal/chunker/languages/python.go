package languages

import (
	"github.com/GughanS/erpnext-ast-analyzer/internal/chunker"

	"github.com/smacker/go-tree-sitter/python"
)

// RegisterPython registers the Python grammar. The call query captures both
// plain calls and attribute calls (self.make_gl_entries(), frappe.db.set_value())
// by their trailing identifier, matching how ERPNext business rules are
// invoked.
func RegisterPython(r *chunker.Registry) {
	r.Register(&chunker.LanguageSpec{
		Language: python.GetLanguage(),
		DefinitionQuery: `
			(function_definition name: (identifier) @name) @chunk
		`,
		CallQuery: `
			(call function: (identifier) @callee)
			(call function: (attribute attribute: (identifier) @callee))
		`,
		ImportQuery: `
			(import_from_statement module_name: (dotted_name) @module)
			(import_statement name: (dotted_name) @module)
		`,
		Extensions: []string{"py", "pyi"},
	})
}
