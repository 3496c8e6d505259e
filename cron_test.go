package redjob

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCronSpecDefault(t *testing.T) {
	s := NewCronSpec()
	assert.Equal(t, "* * * * * *", s.String())
}

func TestCronSpecDaily(t *testing.T) {
	s := NewCronSpec().Daily("01:23:59")
	assert.Equal(t, "59 23 1 * * *", s.String())
}

func TestCronSpecEverySeconds(t *testing.T) {
	s := NewCronSpec().EverySeconds(3)
	assert.Equal(t, "*/3 * * * * *", s.String())
}

func TestCronSpecEveryMinutes(t *testing.T) {
	s := NewCronSpec().EveryMinutes(4)
	fields := strings.Split(s.String(), " ")
	assert.Equal(t, "*/4", fields[1])
}

func TestCronSpecRaw(t *testing.T) {
	s := NewCronSpec().Raw("1 1 2/3 * * *")
	assert.Equal(t, "1 1 2/3 * * *", s.String())
}

func TestCronSpecInvalidDaily(t *testing.T) {
	s := NewCronSpec().Daily("not-a-time")
	assert.NotNil(t, s.Err(), "expected an error for a malformed daily spec")
}

func TestCronSpecBuildValid(t *testing.T) {
	s := NewCronSpec().Daily("01:23:59")
	sched, err := s.Build()
	assert.Nil(t, err)
	assert.NotNil(t, sched)
}

func TestCronSpecBuildRejectsMalformedRaw(t *testing.T) {
	s := NewCronSpec().Raw("not a cron expression")
	_, err := s.Build()
	assert.NotNil(t, err, "expected robfig/cron's parser to reject a malformed raw expression")
}
