package testutil

import (
	"github.com/stretchr/testify/mock"
)

// MockCryptoProvider mocks crypto operations.
type MockCryptoProvider struct {
	mock.Mock
}

func NewMockCryptoProvider() *MockCryptoProvider {
	return &MockCryptoProvider{}
}

func (m *MockCryptoProvider) DeriveKey(password string, salt []byte) ([]byte, error) {
	args := m.Called(password, salt)
	if key := args.Get(0); key != nil {
		return key.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockCryptoProvider) Seal(plaintext, key []byte) (string, error) {
	args := m.Called(plaintext, key)
	return args.String(0), args.Error(1)
}

func (m *MockCryptoProvider) Open(token string, key []byte) ([]byte, error) {
	args := m.Called(token, key)
	if data := args.Get(0); data != nil {
		return data.([]byte), args.Error(1)
	}
	return nil, args.Error(1)
}

// MockDocumentStore mocks the encrypted document store.
type MockDocumentStore struct {
	mock.Mock
}

func NewMockDocumentStore() *MockDocumentStore {
	return &MockDocumentStore{}
}

func (m *MockDocumentStore) Exists() bool {
	return m.Called().Bool(0)
}

func (m *MockDocumentStore) Read() (map[string]string, error) {
	args := m.Called()
	if entries := args.Get(0); entries != nil {
		return entries.(map[string]string), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDocumentStore) Write(entries map[string]string) error {
	return m.Called(entries).Error(0)
}

func (m *MockDocumentStore) Path() string {
	return m.Called().String(0)
}

// AssertMockExpectations verifies all mock expectations.
func AssertMockExpectations(t mock.TestingT, mocks ...interface{}) {
	for _, m := range mocks {
		if mockObj, ok := m.(interface{ AssertExpectations(mock.TestingT) bool }); ok {
			mockObj.AssertExpectations(t)
		}
	}
}
