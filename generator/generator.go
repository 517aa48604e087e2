// Package generator produces synthetic users for a run
package generator

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/jonas747/shardbench"
)

// Generator creates a structurally valid user for any positive id
type Generator interface {
	Generate(id int64) shardbench.User
}

var (
	firstNames = []string{"An", "Binh", "Chi", "Dung", "Giang", "Hoa", "Khanh", "Linh", "Minh", "Nam", "Phuong", "Quang", "Thao", "Trang", "Tuan", "Vy"}
	lastNames  = []string{"Nguyen", "Tran", "Le", "Pham", "Hoang", "Huynh", "Phan", "Vu", "Vo", "Dang", "Bui", "Do"}
)

// Random fills users with random names, ages and cities. Safe for concurrent use.
type Random struct {
	mu   sync.Mutex
	rand *rand.Rand
	now  func() time.Time
}

// NewRandom returns a generator seeded with seed, the same seed gives the same users
// apart from CreatedAt which comes from now (time.Now if nil)
func NewRandom(seed int64, now func() time.Time) *Random {
	if now == nil {
		now = time.Now
	}

	return &Random{
		rand: rand.New(rand.NewSource(seed)),
		now:  now,
	}
}

func (r *Random) Generate(id int64) shardbench.User {
	r.mu.Lock()
	first := firstNames[r.rand.Intn(len(firstNames))]
	last := lastNames[r.rand.Intn(len(lastNames))]
	age := shardbench.MinAge + r.rand.Intn(shardbench.MaxAge-shardbench.MinAge+1)
	city := shardbench.Cities[r.rand.Intn(len(shardbench.Cities))]
	r.mu.Unlock()

	return shardbench.User{
		ID:        id,
		Name:      first + " " + last,
		Email:     fmt.Sprintf("%s.%s%d@example.com", strings.ToLower(first), strings.ToLower(last), id),
		Age:       age,
		City:      city,
		CreatedAt: r.now().UTC().Truncate(time.Microsecond),
	}
}

// Sequence generates users with ids 1..n
func Sequence(g Generator, n int) []shardbench.User {
	if n < 1 {
		return nil
	}

	users := make([]shardbench.User, n)
	for i := range users {
		users[i] = g.Generate(int64(i + 1))
	}
	return users
}
