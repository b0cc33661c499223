package pipeline

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"tutor-insight-go/internal/model"
)

var baseTime = time.Date(2024, 9, 1, 10, 0, 0, 0, time.UTC)

func textTurn(role, text string, at time.Time) model.Turn {
	return model.Turn{Role: role, Parts: []model.ContentPart{{Text: text}}, Timestamp: &at}
}

func newConversation(t testing.TB, id string, userID uint, updatedAt time.Time, turns ...model.Turn) *model.Conversation {
	t.Helper()
	conv := &model.Conversation{ID: id, UserID: userID, UpdatedAt: updatedAt, CreatedAt: updatedAt}
	require.NoError(t, conv.SetTurns(turns))
	return conv
}

// memorySource 是内存中的会话存储，failIDs 中的会话读取时返回错误。
type memorySource struct {
	convs   []*model.Conversation
	failIDs map[string]bool
	listErr error
	reads   int
}

func (s *memorySource) ListRefs(_ context.Context, userID *uint) ([]model.ConversationRef, error) {
	if s.listErr != nil {
		return nil, s.listErr
	}
	var refs []model.ConversationRef
	for _, c := range s.convs {
		if userID != nil && c.UserID != *userID {
			continue
		}
		refs = append(refs, model.ConversationRef{ID: c.ID, UserID: c.UserID, UpdatedAt: c.UpdatedAt})
	}
	sort.SliceStable(refs, func(i, j int) bool { return refs[i].UpdatedAt.After(refs[j].UpdatedAt) })
	return refs, nil
}

func (s *memorySource) FindByID(_ context.Context, id string) (*model.Conversation, error) {
	s.reads++
	if s.failIDs[id] {
		return nil, errors.New("connection reset")
	}
	for _, c := range s.convs {
		if c.ID == id {
			return c, nil
		}
	}
	return nil, errors.New("not found")
}

type mockClassifier struct {
	mock.Mock
}

func (m *mockClassifier) Classify(_ context.Context, msg model.ExtractedMessage) (string, error) {
	args := m.Called(msg.Text)
	return args.String(0), args.Error(1)
}

type memoryStore struct {
	saved  []*model.AnalyzedAttempt
	calls  int
	err    error
	ctxErr error
}

func (s *memoryStore) BatchCreate(ctx context.Context, attempts []*model.AnalyzedAttempt) error {
	s.calls++
	s.ctxErr = ctx.Err()
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, attempts...)
	return nil
}

type memoryLedger map[string]map[int]struct{}

func (l memoryLedger) ExistingIndexes(_ context.Context, conversationID string) (map[int]struct{}, error) {
	return l[conversationID], nil
}
