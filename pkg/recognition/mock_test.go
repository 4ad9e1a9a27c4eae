package recognition

import (
	"sync/atomic"

	"github.com/Kagami/go-face"
)

type MockFaceEngine struct {
	RecognizeFunc    func(data []byte) ([]face.Face, error)
	RecognizeCNNFunc func(data []byte) ([]face.Face, error)
	CloseFunc        func()

	hogCalls int32
	cnnCalls int32
	closed   int32
}

func (m *MockFaceEngine) Recognize(data []byte) ([]face.Face, error) {
	atomic.AddInt32(&m.hogCalls, 1)
	if m.RecognizeFunc != nil {
		return m.RecognizeFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) RecognizeCNN(data []byte) ([]face.Face, error) {
	atomic.AddInt32(&m.cnnCalls, 1)
	if m.RecognizeCNNFunc != nil {
		return m.RecognizeCNNFunc(data)
	}
	return nil, nil
}

func (m *MockFaceEngine) Close() {
	atomic.AddInt32(&m.closed, 1)
	if m.CloseFunc != nil {
		m.CloseFunc()
	}
}
