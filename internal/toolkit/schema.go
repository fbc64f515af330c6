// ABOUTME: Collection schema types describing columns, relations, actions and segments
// ABOUTME: Used to validate condition trees and aggregations before they reach a data source

package toolkit

import "sort"

// ColumnType is the logical type of a column.
type ColumnType string

const (
	ColumnTypeString   ColumnType = "String"
	ColumnTypeNumber   ColumnType = "Number"
	ColumnTypeBoolean  ColumnType = "Boolean"
	ColumnTypeDate     ColumnType = "Date"
	ColumnTypeDateonly ColumnType = "Dateonly"
	ColumnTypeUUID     ColumnType = "Uuid"
	ColumnTypeJSON     ColumnType = "Json"
	ColumnTypeEnum     ColumnType = "Enum"
)

// ColumnSchema describes a single column of a collection.
type ColumnSchema struct {
	ColumnType   ColumnType
	IsPrimaryKey bool
	IsReadOnly   bool
	IsSortable   bool
	EnumValues   []string

	// FilterOperators restricts the operators usable on the column.
	// A nil set allows every operator.
	FilterOperators OperatorSet
}

// AllowsOperator reports whether op may be used on the column.
func (c ColumnSchema) AllowsOperator(op Operator) bool {
	if c.FilterOperators == nil {
		return true
	}
	_, ok := c.FilterOperators[op]
	return ok
}

// RelationType is the kind of a relation field.
type RelationType string

const (
	RelationManyToOne  RelationType = "ManyToOne"
	RelationOneToOne   RelationType = "OneToOne"
	RelationOneToMany  RelationType = "OneToMany"
	RelationManyToMany RelationType = "ManyToMany"
)

// RelationSchema describes a relation to another collection.
type RelationSchema struct {
	Type              RelationType
	ForeignCollection string
	ForeignKey        string
}

// ActionScope tells how many records a custom action targets.
type ActionScope string

const (
	ActionScopeSingle ActionScope = "Single"
	ActionScopeBulk   ActionScope = "Bulk"
	ActionScopeGlobal ActionScope = "Global"
)

// ActionSchema describes a custom action exposed on a collection.
type ActionSchema struct {
	Scope        ActionScope
	GenerateFile bool
	StaticForm   bool
}

// CollectionSchema is the full description of a collection.
type CollectionSchema struct {
	Fields     map[string]ColumnSchema
	Relations  map[string]RelationSchema
	Actions    map[string]ActionSchema
	Searchable bool

	// Segments maps a segment name to the rows it selects.
	Segments map[string]ConditionTree
}

// PrimaryKeys returns the primary key column names in lexical order.
func (s CollectionSchema) PrimaryKeys() []string {
	var pks []string
	for name, col := range s.Fields {
		if col.IsPrimaryKey {
			pks = append(pks, name)
		}
	}
	sort.Strings(pks)
	return pks
}

// SearchableColumns returns the string columns used by full-text search.
func (s CollectionSchema) SearchableColumns() []string {
	var cols []string
	for name, col := range s.Fields {
		if col.ColumnType == ColumnTypeString || col.ColumnType == ColumnTypeEnum {
			cols = append(cols, name)
		}
	}
	sort.Strings(cols)
	return cols
}
