package schema

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_ShopDocument(t *testing.T) {
	reg, err := Load("testdata/shop.cue")
	require.NoError(t, err)

	assert.Equal(t, []string{"Category", "Product", "ProductTag", "Tag"}, reg.EntityNames())

	product := reg.Entity("Product")
	require.NotNil(t, product)
	assert.Equal(t, "products", product.Table)
	assert.Equal(t, []string{"productId", "name", "sku", "price", "stock", "categoryId", "createdAt"}, product.FieldOrder)
	assert.Equal(t, []string{"productId"}, product.Identifiers())

	id := product.Field("productId")
	assert.Equal(t, "product_id", id.Column)
	assert.Equal(t, FieldInt, id.Type)

	sku := product.Field("sku")
	assert.Equal(t, "sku", sku.Column, "column defaults to the property name")
	assert.Equal(t, FieldString, sku.Type)
	assert.True(t, product.Field("stock").Optional)
	assert.Equal(t, FieldTime, product.Field("createdAt").Type)

	assert.Equal(t, []string{"category", "tags"}, product.RelationOrder)
	tags := product.Relation("tags")
	assert.Equal(t, ManyToMany, tags.Cardinality)
	assert.Equal(t, "ProductTag", tags.Bridge)
	assert.False(t, tags.Unique())
	assert.True(t, product.Relation("category").Unique())

	assert.Equal(t, []string{"productId", "tagId"}, reg.Entity("ProductTag").Identifiers())
}

func TestParse_RejectsUnknownFieldType(t *testing.T) {
	_, err := Parse("bad.cue", []byte(`entities: A: fields: id: {type: "decimal", identifier: true}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validating bad.cue")
}

func TestParse_RejectsUnknownKeys(t *testing.T) {
	_, err := Parse("bad.cue", []byte(`entities: A: {fields: id: {identifier: true}, colour: "red"}`))
	require.Error(t, err)
}

func TestParse_RejectsDanglingRelation(t *testing.T) {
	doc := `entities: A: {
		fields: id: {type: "int", identifier: true}
		relations: b: {kind: "M2O", target: "B", join: "id", references: "id"}
	}`
	_, err := Parse("dangling.cue", []byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "relation b targets unknown entity B")
}

func TestParse_RequiresIdentifier(t *testing.T) {
	_, err := Parse("noid.cue", []byte(`entities: A: fields: name: {}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity A: no identifier property")
}

func TestCoerce(t *testing.T) {
	tests := []struct {
		name string
		ft   FieldType
		in   any
		want any
	}{
		{"nil stays nil", FieldInt, nil, nil},
		{"int from int64", FieldInt, int64(7), int64(7)},
		{"int from integral float", FieldInt, 7.0, int64(7)},
		{"int from string", FieldInt, " 42 ", int64(42)},
		{"float from int", FieldFloat, int64(3), 3.0},
		{"float from bytes", FieldFloat, []byte("2.5"), 2.5},
		{"string from int", FieldString, int64(5), "5"},
		{"bool from int", FieldBool, int64(1), true},
		{"bool from string", FieldBool, "false", false},
		{"json passes through", FieldJSON, map[string]any{"a": 1}, map[string]any{"a": 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.ft, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCoerce_Time(t *testing.T) {
	got, err := Coerce(FieldTime, "2024-01-15 10:00:00")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 0, 0, 0, time.UTC), got)

	got, err = Coerce(FieldTime, int64(0))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(0, 0).UTC(), got)
}

func TestCoerce_Errors(t *testing.T) {
	_, err := Coerce(FieldInt, 1.5)
	assert.Error(t, err)

	_, err = Coerce(FieldFloat, "abc")
	assert.Error(t, err)

	_, err = Coerce(FieldTime, "not a date")
	assert.Error(t, err)
}

func TestCoerce_IntRange(t *testing.T) {
	for _, v := range []any{uint64(math.MaxUint64), uint64(math.MaxInt64) + 1, 1e19, -1e19, math.Inf(1), "1e300", "NaN"} {
		_, err := Coerce(FieldInt, v)
		assert.Error(t, err, "%v", v)
	}

	got, err := Coerce(FieldInt, uint64(math.MaxInt64))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), got)

	got, err = Coerce(FieldInt, -9.223372036854775808e18)
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), got)
}

type widget struct {
	ID   int64
	Name string
}

func TestDefaultMaterializer_Record(t *testing.T) {
	es := &EntitySchema{Name: "Widget"}
	es.AddField(&FieldMeta{Name: "id", Type: FieldInt, Identifier: true}).
		AddField(&FieldMeta{Name: "name"})

	got, err := DefaultMaterializer{}.Materialize(es, map[string]any{"id": "3", "name": "bolt", "ignored": 1})
	require.NoError(t, err)

	rec, ok := got.(*Record)
	require.True(t, ok)
	assert.Equal(t, "Widget", rec.Entity)
	assert.Equal(t, int64(3), rec.Get("id"))
	assert.Equal(t, "bolt", rec.Get("name"))
	assert.Nil(t, rec.Get("ignored"))

	js, err := rec.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{"id": 3, "name": "bolt"}`, string(js))
}

func TestDefaultMaterializer_Accessors(t *testing.T) {
	es := &EntitySchema{Name: "Widget"}
	es.AddField(&FieldMeta{Name: "id", Type: FieldInt, Identifier: true}).
		AddField(&FieldMeta{Name: "name"})
	es.Accessors = &Accessors{
		New: func() any { return &widget{} },
		Setters: map[string]Setter{
			"id":   func(target, v any) error { target.(*widget).ID = v.(int64); return nil },
			"name": func(target, v any) error { target.(*widget).Name = v.(string); return nil },
		},
	}

	got, err := DefaultMaterializer{}.Materialize(es, map[string]any{"id": int64(9), "name": "nut"})
	require.NoError(t, err)
	assert.Equal(t, &widget{ID: 9, Name: "nut"}, got)
}

func TestDefaultMaterializer_CoercionError(t *testing.T) {
	es := &EntitySchema{Name: "Widget"}
	es.AddField(&FieldMeta{Name: "id", Type: FieldInt, Identifier: true})

	_, err := DefaultMaterializer{}.Materialize(es, map[string]any{"id": "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Widget.id")
}
