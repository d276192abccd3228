// Package schematest provides resource schemas shared by tests across packages.
package schematest

import "github.com/conduit-lang/jsonapi-server/internal/orm/schema"

// Systems returns the "systems" type: a name and the games released for it
func Systems() *schema.ResourceType {
	return schema.NewType("systems").
		Attr("name", schema.String, schema.Required(), schema.MaxLength(64)).
		ToMany("games", "games", schema.Inverse("system")).
		MustBuild()
}

// Games returns the "games" type: title, release year and the system it runs on
func Games() *schema.ResourceType {
	return schema.NewType("games").
		Attr("title", schema.String, schema.Required()).
		Attr("year", schema.Integer).
		ToOne("system", "systems", schema.Inverse("games")).
		MustBuild()
}

// RetroGames returns a frozen registry with systems and games
func RetroGames() *schema.Registry {
	reg := schema.NewRegistry().MustRegister(Systems(), Games())
	reg.Freeze()
	return reg
}

// Blog returns a frozen registry with a deeper graph: authors write posts, posts have
// comments, comments have an author, and authors have a mentor (self reference)
func Blog() *schema.Registry {
	authors := schema.NewType("authors").
		Attr("name", schema.String, schema.Required()).
		Attr("active", schema.Boolean).
		ToMany("posts", "posts", schema.Inverse("author")).
		ToOne("mentor", "authors").
		MustBuild()
	posts := schema.NewType("posts").
		Attr("title", schema.String, schema.Required()).
		Attr("body", schema.Text).
		Attr("rating", schema.Float).
		Attr("published_at", schema.DateTime).
		ToOne("author", "authors", schema.Inverse("posts"), schema.RequiredLink()).
		ToMany("comments", "comments", schema.Inverse("post")).
		MustBuild()
	comments := schema.NewType("comments").
		Attr("body", schema.Text, schema.Required()).
		ToOne("post", "posts", schema.Inverse("comments")).
		ToOne("author", "authors").
		MustBuild()

	reg := schema.NewRegistry().MustRegister(authors, posts, comments)
	reg.Freeze()
	return reg
}
