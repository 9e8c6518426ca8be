// Package credentials keeps the Mastodon access token in the OS keyring so
// it does not have to live in the config file or environment.
package credentials

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

const service = "mastodon-archiver"

var (
	ErrNotFound     = errors.New("no access token stored for this instance")
	ErrInvalidInput = errors.New("instance url and token are required")
)

// Store saves one token per Mastodon instance.
type Store struct{}

func NewStore() *Store {
	return &Store{}
}

func (s *Store) Set(instance, token string) error {
	key, err := accountKey(instance)
	if err != nil {
		return err
	}
	if strings.TrimSpace(token) == "" {
		return ErrInvalidInput
	}
	if err := keyring.Set(service, key, strings.TrimSpace(token)); err != nil {
		return fmt.Errorf("store token in keyring: %w", err)
	}
	return nil
}

func (s *Store) Get(instance string) (string, error) {
	key, err := accountKey(instance)
	if err != nil {
		return "", err
	}
	token, err := keyring.Get(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read token from keyring: %w", err)
	}
	return token, nil
}

func (s *Store) Delete(instance string) error {
	key, err := accountKey(instance)
	if err != nil {
		return err
	}
	err = keyring.Delete(service, key)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("delete token from keyring: %w", err)
	}
	return nil
}

// accountKey normalises an instance URL to its host so that
// "https://social.example/" and "social.example" share one entry.
func accountKey(instance string) (string, error) {
	instance = strings.TrimSpace(instance)
	if instance == "" {
		return "", ErrInvalidInput
	}
	if !strings.Contains(instance, "://") {
		instance = "https://" + instance
	}
	u, err := url.Parse(instance)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("parse instance url %q: %w", instance, ErrInvalidInput)
	}
	return strings.ToLower(u.Host), nil
}
