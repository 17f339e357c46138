package mysql

import (
	"context"
	"testing"

	"neotasker/internal/model"

	"github.com/stretchr/testify/assert"
)

func TestSettingRoundTripAndOverwrite(t *testing.T) {
	repo := NewSettingRepository(newTestDB(t))
	ctx := context.Background()

	// 未写入的键返回空串
	value, err := repo.GetSetting(ctx, model.SettingConsumptionMode)
	assert.NoError(t, err)
	assert.Empty(t, value)

	assert.NoError(t, repo.SetSetting(ctx, model.SettingConsumptionMode, "STANDARD", "active consumption mode"))
	value, err = repo.GetSetting(ctx, model.SettingConsumptionMode)
	assert.NoError(t, err)
	assert.Equal(t, "STANDARD", value)

	// 重复写入覆盖旧值
	assert.NoError(t, repo.SetSetting(ctx, model.SettingConsumptionMode, "MINIMAL", "active consumption mode"))
	value, err = repo.GetSetting(ctx, model.SettingConsumptionMode)
	assert.NoError(t, err)
	assert.Equal(t, "MINIMAL", value)
}
