package cmd

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ElLumy/chameleon/api/schemas"
	"github.com/ElLumy/chameleon/internal/mocks"
)

func TestPutSetting_NormalizesAndStores(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("PutSetting", mock.Anything, schemas.SettingEnabled, "false").Return(nil)
	repo.On("PutSetting", mock.Anything, schemas.SettingRotateInterval, "90s").Return(nil)
	repo.On("PutSetting", mock.Anything, schemas.SettingDebugMode, "true").Return(nil)
	ctx := context.Background()

	v, err := putSetting(ctx, repo, schemas.SettingEnabled, " 0 ")
	require.NoError(t, err)
	assert.Equal(t, "false", v)

	v, err = putSetting(ctx, repo, schemas.SettingRotateInterval, "90s")
	require.NoError(t, err)
	assert.Equal(t, "90s", v)

	_, err = putSetting(ctx, repo, schemas.SettingDebugMode, "T")
	require.NoError(t, err)

	repo.AssertExpectations(t)
}

func TestPutSetting_RejectsBadInput(t *testing.T) {
	repo := new(mocks.MockRepository)
	ctx := context.Background()

	for _, tc := range []struct{ key, value string }{
		{schemas.SettingAutoRotate, "sometimes"},
		{schemas.SettingRotateInterval, "0"},
		{schemas.SettingRotateInterval, "soon"},
		{"theme", "dark"},
	} {
		_, err := putSetting(ctx, repo, tc.key, tc.value)
		assert.Error(t, err, "%s=%s", tc.key, tc.value)
	}
	repo.AssertNotCalled(t, "PutSetting", mock.Anything, mock.Anything, mock.Anything)
}

func TestPutSetting_StoreError(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("PutSetting", mock.Anything, schemas.SettingAutoRotate, "true").Return(errors.New("read-only"))

	_, err := putSetting(context.Background(), repo, schemas.SettingAutoRotate, "true")
	assert.ErrorContains(t, err, "read-only")
}

func TestPrintSettings(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("GetSetting", mock.Anything, schemas.SettingEnabled).Return("true", true, nil)
	repo.On("GetSetting", mock.Anything, schemas.SettingAutoRotate).Return("", false, nil)
	repo.On("GetSetting", mock.Anything, schemas.SettingRotateInterval).Return("15", true, nil)
	repo.On("GetSetting", mock.Anything, schemas.SettingDebugMode).Return("", false, nil)

	var out bytes.Buffer
	require.NoError(t, printSettings(context.Background(), repo, &out))
	assert.Equal(t, "enabled=true\nautoRotate=(unset)\nrotateInterval=15\ndebugMode=(unset)\n", out.String())

	out.Reset()
	require.NoError(t, printSettings(context.Background(), repo, &out, schemas.SettingRotateInterval))
	assert.Equal(t, "rotateInterval=15\n", out.String())

	assert.Error(t, printSettings(context.Background(), repo, &out, "theme"))
}

// A value written through the settings command is what the runtime reads.
func TestSettings_RoundTripIntoRotation(t *testing.T) {
	repo := new(mocks.MockRepository)
	repo.On("PutSetting", mock.Anything, schemas.SettingRotateInterval, "45").Return(nil)
	repo.On("PutSetting", mock.Anything, schemas.SettingAutoRotate, "true").Return(nil)
	ctx := context.Background()

	_, err := putSetting(ctx, repo, schemas.SettingRotateInterval, "45")
	require.NoError(t, err)
	_, err = putSetting(ctx, repo, schemas.SettingAutoRotate, "1")
	require.NoError(t, err)

	repo.On("GetSetting", mock.Anything, schemas.SettingAutoRotate).Return("true", true, nil)
	repo.On("GetSetting", mock.Anything, schemas.SettingRotateInterval).Return("45", true, nil)
	enabled, every := newTestComponents(t, repo).Rotation(ctx)
	assert.True(t, enabled)
	assert.Equal(t, "45m0s", every.String())
}
