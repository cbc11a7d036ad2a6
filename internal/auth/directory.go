package auth

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

//go:embed seed/users.json
var seedUsers []byte

var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrUsernameTaken      = errors.New("username already exists")
	ErrNotAuthenticated   = errors.New("not authenticated")
)

// SeedUser is a directory record as it appears in the seed file. Optional
// profile fields fall back to the login defaults.
type SeedUser struct {
	ID            string           `json:"id"`
	Username      string           `json:"username"`
	Password      string           `json:"password"`
	Email         string           `json:"email"`
	Name          string           `json:"name"`
	Bio           string           `json:"bio"`
	AvatarURL     string           `json:"avatarUrl"`
	Following     int              `json:"following"`
	Followers     int              `json:"followers"`
	VideosWatched int              `json:"videosWatched"`
	Preferences   *seedPreferences `json:"preferences"`
	Badges        []Badge          `json:"badges"`
	SavedVideos   []string         `json:"savedVideos"`
	LikedVideos   []string         `json:"likedVideos"`
}

type seedPreferences struct {
	DarkMode      *bool `json:"darkMode"`
	Autoplay      *bool `json:"autoplay"`
	Notifications *bool `json:"notifications"`
}

func (u SeedUser) profile() Profile {
	p := Profile{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		Name:          u.Name,
		Bio:           u.Bio,
		AvatarURL:     u.AvatarURL,
		Following:     u.Following,
		Followers:     u.Followers,
		VideosWatched: u.VideosWatched,
		Preferences:   Preferences{Autoplay: true, Notifications: true},
		Badges:        u.Badges,
		SavedVideos:   u.SavedVideos,
		LikedVideos:   u.LikedVideos,
	}
	if p.AvatarURL == "" {
		p.AvatarURL = DefaultAvatar
	}
	if prefs := u.Preferences; prefs != nil {
		if prefs.DarkMode != nil {
			p.Preferences.DarkMode = *prefs.DarkMode
		}
		if prefs.Autoplay != nil {
			p.Preferences.Autoplay = *prefs.Autoplay
		}
		if prefs.Notifications != nil {
			p.Preferences.Notifications = *prefs.Notifications
		}
	}
	return p.Clone()
}

type account struct {
	profile Profile
	hash    []byte
}

// Directory is the user directory logins and registrations are checked against.
// Passwords are held only as bcrypt hashes.
type Directory struct {
	mu       sync.RWMutex
	accounts map[string]*account
	cost     int
}

func NewDirectory(users []SeedUser, cost int) (*Directory, error) {
	d := &Directory{accounts: make(map[string]*account, len(users)), cost: cost}
	for _, u := range users {
		if u.Username == "" || u.ID == "" {
			return nil, fmt.Errorf("seed user %q: id and username are required", u.Username)
		}
		if err := d.add(u.profile(), u.Password); err != nil {
			return nil, fmt.Errorf("seed user %q: %w", u.Username, err)
		}
	}
	return d, nil
}

// LoadDirectory builds the directory from the embedded seed users.
func LoadDirectory(cost int) (*Directory, error) {
	var users []SeedUser
	if err := json.Unmarshal(seedUsers, &users); err != nil {
		return nil, fmt.Errorf("decode seed users: %w", err)
	}
	return NewDirectory(users, cost)
}

func normalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.accounts)
}

func (d *Directory) Exists(username string) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.accounts[normalizeUsername(username)]
	return ok
}

func (d *Directory) Authenticate(username, password string) (Profile, error) {
	d.mu.RLock()
	acct, ok := d.accounts[normalizeUsername(username)]
	d.mu.RUnlock()
	if !ok {
		return Profile{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(acct.hash, []byte(password)); err != nil {
		return Profile{}, ErrInvalidCredentials
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	return acct.profile.Clone(), nil
}

// Add registers a new account. The username comparison is case-insensitive.
func (d *Directory) Add(profile Profile, password string) error {
	return d.add(profile, password)
}

func (d *Directory) add(profile Profile, password string) error {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), d.cost)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	key := normalizeUsername(profile.Username)
	if _, exists := d.accounts[key]; exists {
		return ErrUsernameTaken
	}
	d.accounts[key] = &account{profile: profile.Clone(), hash: hash}
	return nil
}

// Save replaces the stored profile of an existing account so later logins see the update.
func (d *Directory) Save(profile Profile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if acct, ok := d.accounts[normalizeUsername(profile.Username)]; ok {
		acct.profile = profile.Clone()
	}
}
