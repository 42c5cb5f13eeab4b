package ldapsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProbeError_IsTotal(t *testing.T) {
	assert.Equal(t, MessageKey(""), ProbeError(ProbeOK))
	for status := ProbeWrongServerOrPort; status <= ProbeCertificateRequest; status++ {
		key := ProbeError(status)
		assert.NotEmpty(t, key, status.String())
		assert.NotEqual(t, ErrorUnknown, key, status.String())
	}
	assert.Equal(t, ErrorUnknown, ProbeError(ProbeStatus(99)))
}

func TestCatalog_Languages(t *testing.T) {
	cat := NewCatalog()

	assert.Equal(t, "Saving users", cat.Localizer("en").Text(StatusSavingUsers))
	assert.Equal(t, "Сохранение пользователей", cat.Localizer("ru-RU").Text(StatusSavingUsers))
	assert.Equal(t, "Saving users", cat.Localizer("de").Text(StatusSavingUsers), "unknown languages fall back to English")
	assert.Equal(t, "Removing outdated users", cat.Localizer("ru").Text(StatusRemovingOldUsers), "missing translations use English")
}

func TestCatalog_Arguments(t *testing.T) {
	text := NewCatalog().Localizer("en").Text(StatusGivingRights, "Anna Doe", string(RightCRM))
	assert.Equal(t, "Granting CRM rights to Anna Doe", text)
}
