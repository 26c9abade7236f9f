package models

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReplyPayload_DecodesBothShapes(t *testing.T) {
	var raw AnnotationReplyMessage
	require.NoError(t, json.Unmarshal([]byte(`{"projectId":"p1","annotationId":"a1","reply":"looks good"}`), &raw))
	assert.Equal(t, ReplyRaw, raw.Reply.Kind)
	assert.Equal(t, "looks good", raw.Reply.Content)

	var rec AnnotationReplyMessage
	require.NoError(t, json.Unmarshal([]byte(`{"projectId":"p1","annotationId":"a1","reply":{"id":"r1","content":"ok","addedBy":"u1"}}`), &rec))
	assert.Equal(t, ReplyRecord, rec.Reply.Kind)
	require.NotNil(t, rec.Reply.Reply)
	assert.Equal(t, "r1", rec.Reply.Reply.ID)
}

func TestReplyPayload_RejectsNull(t *testing.T) {
	var m AnnotationReplyMessage
	err := json.Unmarshal([]byte(`{"projectId":"p1","annotationId":"a1","reply":null}`), &m)
	assert.Error(t, err)
}

func TestReplyPayload_Normalize(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	r, err := RawReply("fix kerning").Normalize("a1", "u1", "Ann", now)
	require.NoError(t, err)
	assert.NotEmpty(t, r.ID)
	assert.Equal(t, "a1", r.AnnotationID)
	assert.Equal(t, "u1", r.AddedBy)
	assert.Equal(t, "Ann", r.AddedByName)
	assert.Equal(t, now, r.CreatedAt)

	stored := AnnotationReply{ID: "r9", Content: "done", AnnotationID: "other", AddedBy: "u2", CreatedAt: now.Add(-time.Hour)}
	r, err = RecordReply(stored).Normalize("a1", "u1", "Ann", now)
	require.NoError(t, err)
	assert.Equal(t, "r9", r.ID)
	assert.Equal(t, "a1", r.AnnotationID, "reply always attaches under the addressed annotation")
	assert.Equal(t, "u2", r.AddedBy)
	assert.Equal(t, now.Add(-time.Hour), r.CreatedAt)

	_, err = RawReply("").Normalize("a1", "", "", now)
	assert.ErrorIs(t, err, ErrEmptyReply)
}

func TestReplyPayload_RecordRoundTripsAsObject(t *testing.T) {
	b, err := json.Marshal(RecordReply(AnnotationReply{ID: "r1", Content: "hi"}))
	require.NoError(t, err)
	assert.Equal(t, byte('{'), b[0])

	b, err = json.Marshal(RawReply("hi"))
	require.NoError(t, err)
	assert.Equal(t, `"hi"`, string(b))
}

func TestCoordinates_ValueScan(t *testing.T) {
	c := Coordinates{X: 42.5, Y: 10.1}
	v, err := c.Value()
	require.NoError(t, err)

	var got Coordinates
	require.NoError(t, got.Scan(v))
	assert.Equal(t, c, got)

	require.NoError(t, got.Scan([]byte(`{"x":1,"y":2}`)))
	assert.Equal(t, Coordinates{X: 1, Y: 2}, got)
	assert.Error(t, got.Scan(12))
}

func TestActor_CanAccessProject(t *testing.T) {
	assert.True(t, Actor{Role: RoleAdmin}.CanAccessProject("p1"))
	assert.True(t, Actor{Role: RoleClient, ProjectID: "p1"}.CanAccessProject("p1"))
	assert.False(t, Actor{Role: RoleClient, ProjectID: "p1"}.CanAccessProject("p2"))
	assert.False(t, Actor{Role: RoleClient}.CanAccessProject(""))
}
