package mocks

import (
	"context"

	"github.com/kbforge/kbforge/pkg/protocol"
	"github.com/stretchr/testify/mock"
)

// MockModelRegistry is a mock implementation of protocol.ModelRegistry interface.
type MockModelRegistry struct {
	mock.Mock
}

func (m *MockModelRegistry) GetModelStatus(ctx context.Context, modelID string) (protocol.ModelStatus, error) {
	args := m.Called(ctx, modelID)

	return args.Get(0).(protocol.ModelStatus), args.Error(1)
}

func (m *MockModelRegistry) GetFallbackModel(ctx context.Context, modelType protocol.ModelType) (string, error) {
	args := m.Called(ctx, modelType)

	return args.String(0), args.Error(1)
}

// MockEmbedder is a mock implementation of protocol.Embedder interface.
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) Embed(ctx context.Context, model string, texts []string) ([][]float32, error) {
	args := m.Called(ctx, model, texts)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([][]float32), args.Error(1)
}

func (m *MockEmbedder) Dimensions(model string) int {
	args := m.Called(model)

	return args.Int(0)
}

// MockSearchIndex is a mock implementation of protocol.SearchIndex interface.
type MockSearchIndex struct {
	mock.Mock
}

func (m *MockSearchIndex) Index(ctx context.Context, collection string, docs []protocol.IndexDocument) (*protocol.IndexStats, error) {
	args := m.Called(ctx, collection, docs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.IndexStats), args.Error(1)
}

func (m *MockSearchIndex) Stats(ctx context.Context, collection string) (*protocol.IndexStats, error) {
	args := m.Called(ctx, collection)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.IndexStats), args.Error(1)
}

// MockBlobStore is a mock implementation of protocol.BlobStore interface.
type MockBlobStore struct {
	mock.Mock
}

func (m *MockBlobStore) Walk(ctx context.Context, root string, fn func(protocol.FileInfo) error) error {
	args := m.Called(ctx, root, fn)

	return args.Error(0)
}

func (m *MockBlobStore) Read(ctx context.Context, path string) ([]byte, error) {
	args := m.Called(ctx, path)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).([]byte), args.Error(1)
}

func (m *MockBlobStore) Store(ctx context.Context, relPath string, data []byte) (*protocol.FileMetadata, error) {
	args := m.Called(ctx, relPath, data)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}

	return args.Get(0).(*protocol.FileMetadata), args.Error(1)
}
