// Package schematest provides a small shop catalogue (categories, products,
// tags) for tests across the engine: its registry, SQLite DDL and seed rows.
package schematest

import (
	"context"
	"database/sql"

	"github.com/quellabs/objectquel/internal/quel/schema"
)

// Shop returns a registry with Category, Product, Tag and the ProductTag
// bridge entity.
func Shop() *schema.Registry {
	reg := schema.NewRegistry()

	category := &schema.EntitySchema{Name: "Category", Table: "categories"}
	category.
		AddField(&schema.FieldMeta{Name: "categoryId", Column: "category_id", Type: schema.FieldInt, Identifier: true}).
		AddField(&schema.FieldMeta{Name: "name", Type: schema.FieldString}).
		AddRelation(&schema.RelationMeta{
			Name: "products", Target: "Product", Cardinality: schema.OneToMany,
			JoinProperty: "categoryId", ReferencedProperty: "categoryId",
		})
	reg.Register(category)

	product := &schema.EntitySchema{Name: "Product", Table: "products"}
	product.
		AddField(&schema.FieldMeta{Name: "productId", Column: "product_id", Type: schema.FieldInt, Identifier: true}).
		AddField(&schema.FieldMeta{Name: "name", Type: schema.FieldString}).
		AddField(&schema.FieldMeta{Name: "sku", Type: schema.FieldString}).
		AddField(&schema.FieldMeta{Name: "price", Type: schema.FieldFloat}).
		AddField(&schema.FieldMeta{Name: "stock", Type: schema.FieldInt, Optional: true}).
		AddField(&schema.FieldMeta{Name: "categoryId", Column: "category_id", Type: schema.FieldInt, Optional: true}).
		AddField(&schema.FieldMeta{Name: "createdAt", Column: "created_at", Type: schema.FieldTime, Optional: true}).
		AddRelation(&schema.RelationMeta{
			Name: "category", Target: "Category", Cardinality: schema.ManyToOne,
			JoinProperty: "categoryId", ReferencedProperty: "categoryId",
		}).
		AddRelation(&schema.RelationMeta{
			Name: "tags", Target: "Tag", Cardinality: schema.ManyToMany,
			JoinProperty: "productId", ReferencedProperty: "tagId",
			Bridge: "ProductTag", BridgeSource: "productId", BridgeTarget: "tagId",
		})
	reg.Register(product)

	tag := &schema.EntitySchema{Name: "Tag", Table: "tags"}
	tag.
		AddField(&schema.FieldMeta{Name: "tagId", Column: "tag_id", Type: schema.FieldInt, Identifier: true}).
		AddField(&schema.FieldMeta{Name: "label", Type: schema.FieldString})
	reg.Register(tag)

	bridge := &schema.EntitySchema{Name: "ProductTag", Table: "product_tags"}
	bridge.
		AddField(&schema.FieldMeta{Name: "productId", Column: "product_id", Type: schema.FieldInt, Identifier: true}).
		AddField(&schema.FieldMeta{Name: "tagId", Column: "tag_id", Type: schema.FieldInt, Identifier: true})
	reg.Register(bridge)

	return reg
}

// DDL creates the shop tables in SQLite.
var DDL = []string{
	`CREATE TABLE categories (category_id INTEGER PRIMARY KEY, name TEXT NOT NULL)`,
	`CREATE TABLE products (
		product_id  INTEGER PRIMARY KEY,
		name        TEXT NOT NULL,
		sku         TEXT NOT NULL,
		price       REAL NOT NULL,
		stock       INTEGER,
		category_id INTEGER REFERENCES categories(category_id),
		created_at  TEXT
	)`,
	`CREATE TABLE tags (tag_id INTEGER PRIMARY KEY, label TEXT NOT NULL)`,
	`CREATE TABLE product_tags (
		product_id INTEGER NOT NULL REFERENCES products(product_id),
		tag_id     INTEGER NOT NULL REFERENCES tags(tag_id),
		PRIMARY KEY (product_id, tag_id)
	)`,
}

// Seed inserts the fixture rows:
//
//	categories: 1 Tools, 2 Garden, 3 Empty
//	products:   1525 Widget (Tools, 9.99), 1526 Gadget (Tools, 24.50),
//	            1527 Hose (Garden, 15.00), 1528 Orphan (no category, 5.00, no stock)
//	tags:       1 sale, 2 new
//	product_tags: Widget{sale,new}, Hose{sale}
var Seed = []string{
	`INSERT INTO categories (category_id, name) VALUES (1, 'Tools'), (2, 'Garden'), (3, 'Empty')`,
	`INSERT INTO products (product_id, name, sku, price, stock, category_id, created_at) VALUES
		(1525, 'Widget', 'W-1525', 9.99, 10, 1, '2024-01-15 10:00:00'),
		(1526, 'Gadget', 'G-1526', 24.50, 0, 1, '2024-02-01 09:30:00'),
		(1527, 'Hose', 'H-1527', 15.00, 3, 2, '2024-03-10 12:00:00'),
		(1528, 'Orphan', 'O-1528', 5.00, NULL, NULL, NULL)`,
	`INSERT INTO tags (tag_id, label) VALUES (1, 'sale'), (2, 'new')`,
	`INSERT INTO product_tags (product_id, tag_id) VALUES (1525, 1), (1525, 2), (1527, 1)`,
}

// Populate runs DDL and Seed against db.
func Populate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range append(append([]string{}, DDL...), Seed...) {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
