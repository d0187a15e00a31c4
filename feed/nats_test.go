package feed

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSubjectFor(t *testing.T) {
	ev := itemEvent(OpInsert, "abc")
	assert.Equal(t, "shopwise.list_items.abc.insert", SubjectFor("shopwise", ev))

	ev.Row.ListID = "weird.list*id"
	assert.Equal(t, "shopwise.list_items.weird_list_id.insert", SubjectFor("shopwise", ev))
}

func TestSubjectsFor_ListPredicate(t *testing.T) {
	assert.Equal(t,
		[]string{"shopwise.list_items.abc.*"},
		SubjectsFor("shopwise", ListPredicate("abc")))
}

func TestSubjectsFor_GlobalPredicate(t *testing.T) {
	assert.Equal(t,
		[]string{"shopwise.list_items.*.insert", "shopwise.list_items.*.update"},
		SubjectsFor("shopwise", GlobalPredicate()))
}

func TestSubjectsFor_GlobTableUsesWildcard(t *testing.T) {
	assert.Equal(t,
		[]string{"p.*.*.*"},
		SubjectsFor("p", Predicate{Table: "list_*"}))
}

func TestSubjectToken(t *testing.T) {
	assert.Equal(t, "_", SubjectToken(""))
	assert.Equal(t, "a_b_c_d", SubjectToken("a.b*c>d"))
	assert.Equal(t, "3f1c-uuid", SubjectToken("3f1c-uuid"))
}
