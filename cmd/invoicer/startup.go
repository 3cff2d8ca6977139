package main

import "errors"

// startupResources closes what run has opened so far when startup fails.
// Once the shutdown manager owns the resources it is disarmed.
type startupResources struct {
	closers  []func() error
	disarmed bool
}

func (s *startupResources) add(closer func() error) {
	s.closers = append(s.closers, closer)
}

func (s *startupResources) disarm() {
	s.disarmed = true
}

// release closes in reverse order of registration
func (s *startupResources) release() error {
	if s.disarmed {
		return nil
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
