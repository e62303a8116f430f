package filters

import (
	"errors"
	"sync"

	"go.elara.ws/pcre"
)

// RegexCache compiles each pattern of one query once. The compiled expressions hold
// memory outside the Go heap and are released by close.
type RegexCache struct {
	compiled map[string]*pcre.Regexp
	mutex    sync.RWMutex
}

func newRegexCache() *RegexCache {
	return &RegexCache{
		compiled: make(map[string]*pcre.Regexp),
	}
}

func (rc *RegexCache) get(pattern string) (*pcre.Regexp, error) {
	rc.mutex.RLock()
	if regex, exists := rc.compiled[pattern]; exists {
		rc.mutex.RUnlock()
		return regex, nil
	}
	rc.mutex.RUnlock()

	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	if regex, exists := rc.compiled[pattern]; exists {
		return regex, nil
	}

	regex, err := pcre.Compile(pattern)
	if err != nil {
		return nil, err
	}
	rc.compiled[pattern] = regex
	return regex, nil
}

func (rc *RegexCache) len() int {
	rc.mutex.RLock()
	defer rc.mutex.RUnlock()
	return len(rc.compiled)
}

func (rc *RegexCache) close() error {
	rc.mutex.Lock()
	defer rc.mutex.Unlock()

	var errs []error
	for pattern, regex := range rc.compiled {
		errs = append(errs, regex.Close())
		delete(rc.compiled, pattern)
	}
	return errors.Join(errs...)
}
