package session

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpeg(data string) Attachment {
	return Attachment{MIMEType: "image/jpeg", Data: []byte(data), SourceSize: int64(len(data))}
}

func TestNewStore(t *testing.T) {
	s := NewStore()
	assert.NotEmpty(t, s.ID())
	assert.Equal(t, 0, s.Snapshot().Len())
	assert.Equal(t, uint64(0), s.Version())

	_, ok := s.Staged()
	assert.False(t, ok)
}

func TestNewStore_WithPrimerAndID(t *testing.T) {
	s := NewStore(WithPrimer("be helpful"), WithID("sess-1"))
	assert.Equal(t, "sess-1", s.ID())

	snap := s.Snapshot()
	require.Equal(t, 1, snap.Len())
	assert.Equal(t, 0, snap.TurnCount())

	primer, ok := snap.Primer()
	require.True(t, ok)
	assert.Equal(t, "be helpful", primer.Text)
}

func TestStage_ReplacesPrevious(t *testing.T) {
	s := NewStore()

	first := s.Stage(jpeg("first"))
	assert.NotEmpty(t, first.ID)

	second := s.Stage(jpeg("second"))
	assert.NotEqual(t, first.ID, second.ID)

	staged, ok := s.Staged()
	require.True(t, ok)
	assert.Equal(t, second.ID, staged.ID)
	assert.Equal(t, []byte("second"), staged.Data)
}

func TestStage_CopiesData(t *testing.T) {
	s := NewStore()
	data := []byte("photo")
	s.Stage(Attachment{MIMEType: "image/png", Data: data})

	data[0] = 'X'

	staged, _ := s.Staged()
	assert.Equal(t, []byte("photo"), staged.Data)
}

func TestAppend_AssignsSeqAndID(t *testing.T) {
	s := NewStore(WithPrimer("primer"))

	u := s.Append(Turn{Role: RoleUser, Text: "hello"})
	a := s.Append(Turn{Role: RoleAssistant, Text: "hi"})

	assert.NotEmpty(t, u.ID)
	assert.Equal(t, 1, u.Seq)
	assert.Equal(t, 2, a.Seq)

	turns := s.Snapshot().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "hello", turns[0].Text)
	assert.Equal(t, RoleAssistant, turns[1].Role)
}

func TestCommitPair(t *testing.T) {
	s := NewStore()
	att := s.Stage(jpeg("x"))

	pair, err := s.CommitPair(s.Version(),
		Turn{Role: RoleUser, Text: "What is this statue?"},
		Turn{Role: RoleAssistant, Text: "A marble figure."},
		"")
	require.NoError(t, err)
	assert.Equal(t, 0, pair[0].Seq)
	assert.Equal(t, 1, pair[1].Seq)

	staged, ok := s.Staged()
	require.True(t, ok, "attachment is retained unless consumed")
	assert.Equal(t, att.ID, staged.ID)
	assert.Equal(t, 2, s.Snapshot().TurnCount())
}

func TestCommitPair_ConsumesMatchingAttachment(t *testing.T) {
	s := NewStore()
	att := s.Stage(jpeg("x"))

	_, err := s.CommitPair(s.Version(),
		Turn{Role: RoleUser, Text: "q"},
		Turn{Role: RoleAssistant, Text: "a"},
		att.ID)
	require.NoError(t, err)

	_, ok := s.Staged()
	assert.False(t, ok)
}

func TestCommitPair_KeepsNewerAttachment(t *testing.T) {
	s := NewStore()
	old := s.Stage(jpeg("old"))
	newer := s.Stage(jpeg("new"))

	_, err := s.CommitPair(s.Version(),
		Turn{Role: RoleUser, Text: "q"},
		Turn{Role: RoleAssistant, Text: "a"},
		old.ID)
	require.NoError(t, err)

	staged, ok := s.Staged()
	require.True(t, ok)
	assert.Equal(t, newer.ID, staged.ID)
}

func TestCommitPair_StaleVersion(t *testing.T) {
	s := NewStore(WithPrimer("primer"))
	v := s.Version()
	s.Reset()

	_, err := s.CommitPair(v,
		Turn{Role: RoleUser, Text: "q"},
		Turn{Role: RoleAssistant, Text: "a"},
		"")
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, 1, s.Snapshot().Len())
}

func TestStagedAt_VersionMatchesAttachment(t *testing.T) {
	s := NewStore()
	_, _, ok := s.StagedAt()
	assert.False(t, ok)

	staged := s.Stage(jpeg("statue"))
	att, version, ok := s.StagedAt()
	require.True(t, ok)
	assert.Equal(t, staged.ID, att.ID)
	assert.Equal(t, s.Version(), version)

	s.Reset()
	_, after, ok := s.StagedAt()
	assert.False(t, ok, "reset clears the attachment observed with the new version")
	assert.Greater(t, after, version)

	_, err := s.CommitPair(version, Turn{Role: RoleUser, Text: "q"}, Turn{Role: RoleAssistant, Text: "a"}, att.ID)
	assert.ErrorIs(t, err, ErrStaleVersion)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestCommitPair_InvalidPair(t *testing.T) {
	s := NewStore()

	_, err := s.CommitPair(s.Version(),
		Turn{Role: RoleAssistant, Text: "a"},
		Turn{Role: RoleUser, Text: "q"},
		"")
	assert.ErrorIs(t, err, ErrInvalidPair)
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestReset_Idempotent(t *testing.T) {
	s := NewStore(WithPrimer("primer"))
	s.Stage(jpeg("x"))
	s.Append(Turn{Role: RoleUser, Text: "q"})
	s.Append(Turn{Role: RoleAssistant, Text: "a"})

	s.Reset()
	once := s.Snapshot()
	_, stagedOnce := s.Staged()

	s.Reset()
	twice := s.Snapshot()
	_, stagedTwice := s.Staged()

	assert.Equal(t, once.Exchanges(), twice.Exchanges())
	assert.Equal(t, 1, twice.Len())
	assert.False(t, stagedOnce)
	assert.False(t, stagedTwice)
	assert.Equal(t, uint64(2), s.Version())
}

func TestReset_WithoutPrimer(t *testing.T) {
	s := NewStore()
	s.Append(Turn{Role: RoleUser, Text: "q"})

	s.Reset()
	assert.Equal(t, 0, s.Snapshot().Len())
}

func TestRestore(t *testing.T) {
	s := NewStore(WithPrimer("primer"))
	v := s.Version()

	s.Restore([]Turn{
		{ID: "t1", Role: RoleUser, Text: "q", Seq: 7},
		{ID: "t2", Role: RoleAssistant, Text: "a", Seq: 8},
	})

	turns := s.Snapshot().Turns()
	require.Len(t, turns, 2)
	assert.Equal(t, "t1", turns[0].ID)
	assert.Equal(t, 1, turns[0].Seq)
	assert.Equal(t, 2, turns[1].Seq)
	assert.Greater(t, s.Version(), v)
}

func TestSnapshot_IsImmutable(t *testing.T) {
	s := NewStore()
	s.Append(Turn{Role: RoleUser, Text: "q"})

	snap := s.Snapshot()
	exchanges := snap.Exchanges()
	exchanges[0] = Turn{Role: RoleUser, Text: "tampered"}

	s.Append(Turn{Role: RoleAssistant, Text: "a"})

	assert.Equal(t, 1, snap.Len())
	assert.Equal(t, "q", snap.Turns()[0].Text)
	assert.Equal(t, 2, s.Snapshot().Len())
}

func TestSnapshot_DoesNotMutate(t *testing.T) {
	s := NewStore(WithPrimer("primer"))
	s.Stage(jpeg("x"))
	v := s.Version()

	for i := 0; i < 3; i++ {
		_ = s.Snapshot()
	}

	assert.Equal(t, v, s.Version())
	_, ok := s.Staged()
	assert.True(t, ok)
	assert.Equal(t, 1, s.Snapshot().Len())
}

func TestCommitPair_ConcurrentCommitsKeepPairsAdjacent(t *testing.T) {
	s := NewStore()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.CommitPair(s.Version(),
				Turn{Role: RoleUser, Text: "q"},
				Turn{Role: RoleAssistant, Text: "a"},
				"")
		}()
	}
	wg.Wait()

	turns := s.Snapshot().Turns()
	require.Len(t, turns, 100)
	for i, turn := range turns {
		if i%2 == 0 {
			assert.Equal(t, RoleUser, turn.Role, "turn %d", i)
		} else {
			assert.Equal(t, RoleAssistant, turn.Role, "turn %d", i)
		}
		assert.Equal(t, i, turn.Seq)
	}
}

func TestTranscript_Empty(t *testing.T) {
	var tr Transcript
	_, ok := tr.Primer()
	assert.False(t, ok)
	assert.Equal(t, 0, tr.TurnCount())
	assert.Empty(t, tr.Turns())
}

func TestNewTranscript(t *testing.T) {
	tr := NewTranscript(SystemPrimer{Text: "p"}, Turn{Role: RoleUser, Text: "q"})
	assert.Equal(t, 2, tr.Len())
	assert.Equal(t, 1, tr.TurnCount())
}

func TestRoleValid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAssistant.Valid())
	assert.False(t, Role("system").Valid())
}
