package llm

// eventSource is the subset of the SDK SSE streams the adapters rely on.
type eventSource[E any] interface {
	Next() bool
	Current() E
	Err() error
	Close() error
}

// fragmentStream turns provider events into text fragments. Events that carry
// no text are skipped. After the first false from Next the source is closed and
// the stream stays exhausted.
type fragmentStream[E any] struct {
	src     eventSource[E]
	extract func(E) (string, error)
	mapErr  func(error) error

	cur  string
	err  error
	done bool
}

func newFragmentStream[E any](src eventSource[E], extract func(E) (string, error), mapErr func(error) error) *fragmentStream[E] {
	return &fragmentStream[E]{src: src, extract: extract, mapErr: mapErr}
}

func (s *fragmentStream[E]) Next() bool {
	if s.done {
		return false
	}

	for s.src.Next() {
		text, err := s.extract(s.src.Current())
		if err != nil {
			s.finish(err)
			return false
		}
		if text == "" {
			continue
		}
		s.cur = text
		return true
	}

	s.finish(s.src.Err())
	return false
}

func (s *fragmentStream[E]) Current() string {
	return s.cur
}

func (s *fragmentStream[E]) Err() error {
	return s.err
}

func (s *fragmentStream[E]) Close() error {
	if s.done {
		return nil
	}
	s.done = true
	s.cur = ""
	return s.src.Close()
}

func (s *fragmentStream[E]) finish(err error) {
	s.done = true
	s.cur = ""
	if err != nil && s.mapErr != nil {
		err = s.mapErr(err)
	}
	s.err = err
	_ = s.src.Close()
}
