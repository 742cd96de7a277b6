package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/YusukeImai797/Gitnote/pkg/engine"
)

func TestWatchLine(t *testing.T) {
	editing := engine.Event{Type: engine.EventEditing, NoteID: "n1", State: engine.StateIdle, Session: "phone"}
	assert.Equal(t, "warning: note n1 is also being edited in session phone", watchLine(editing))

	saved := engine.Event{Type: engine.EventState, NoteID: "n1", State: engine.StateSynced}
	assert.Equal(t, saved.String(), watchLine(saved))
}
