package delivery

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/suite"
)

type StoreTestSuite struct {
	suite.Suite
	store *Store
}

func (s *StoreTestSuite) SetupTest() {
	store, err := NewStore(filepath.Join(s.T().TempDir(), "stranded.db"), 0, nil)
	s.Require().NoError(err)
	s.store = store
}

func (s *StoreTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *StoreTestSuite) save(payload string, priority int, reason string) {
	s.Require().NoError(s.store.Save(NewWrapper([]byte(payload), priority), reason))
}

func (s *StoreTestSuite) count() int {
	count, err := s.store.Count()
	s.Require().NoError(err)
	return count
}

func (s *StoreTestSuite) TestSaveLoad() {
	s.save("later", 5, "expired")
	s.save("first", 0, "failed")

	messages, err := s.store.Load(0)
	s.Require().NoError(err)
	s.Require().Len(messages, 2)

	s.Equal("first", string(messages[0].Payload))
	s.Equal("failed", messages[0].Reason)
	s.Equal("later", string(messages[1].Payload))
	s.Equal(5, messages[1].Priority)
	s.Equal(Signature([]byte("later")), messages[1].Signature)
	s.Greater(messages[1].ExpiresAt, messages[1].Timestamp)

	w := messages[1].Wrapper()
	s.True(w.IsVirgin())
	s.Equal(5, w.Priority())
}

func (s *StoreTestSuite) TestSaveIsIdempotent() {
	s.save("same", 0, "failed")
	s.save("same", 0, "expired")

	s.Equal(1, s.count())

	messages, err := s.store.Load(10)
	s.Require().NoError(err)
	s.Require().Len(messages, 1)
	s.Equal("expired", messages[0].Reason)
}

func (s *StoreTestSuite) TestRejectsReleasedWrapper() {
	w := NewWrapper([]byte("done"), 0)
	w.Release()
	s.ErrorIs(s.store.Save(w, "failed"), ErrNoPayload)
}

func (s *StoreTestSuite) TestDeleteAndAttempts() {
	s.save("a", 0, "failed")
	s.save("b", 0, "failed")

	messages, err := s.store.Load(1)
	s.Require().NoError(err)
	s.Require().Len(messages, 1)

	s.Require().NoError(s.store.IncrementAttempts(messages[0].ID))
	s.Require().NoError(s.store.IncrementAttempts(messages[0].ID))

	messages, err = s.store.Load(0)
	s.Require().NoError(err)
	s.Equal(2, messages[0].Attempts)

	s.Require().NoError(s.store.Delete(messages[0].ID))
	s.Equal(1, s.count())
}

func (s *StoreTestSuite) TestCleanupAndStats() {
	s.save("a", 0, "failed")
	s.save("b", 0, "expired")
	s.save("c", 0, "expired")

	_, err := s.store.db.Exec(`UPDATE stranded_messages SET expires_at = 0 WHERE payload = ?`, []byte("a"))
	s.Require().NoError(err)

	removed, err := s.store.Cleanup()
	s.Require().NoError(err)
	s.Equal(int64(1), removed)

	stats, err := s.store.Stats()
	s.Require().NoError(err)
	s.Equal(2, stats["total_messages"])
	s.Equal(map[string]int{"expired": 2}, stats["by_reason"])
}

func TestStoreTestSuite(t *testing.T) {
	suite.Run(t, new(StoreTestSuite))
}
