package bootstrap

import (
	"context"

	"github.com/nacos-group/nacos-sdk-go/v2/clients/config_client"
	"github.com/nacos-group/nacos-sdk-go/v2/vo"
	"github.com/pkg/errors"

	"stockledger/internal/pkg/logger"
	"stockledger/internal/pkg/nacos"
)

var nacosConfigClient config_client.IConfigClient

// WatchRemoteConfig 从 Nacos 配置中心拉取配置并监听变更
// 远端配置叠加在本地配置之上，变更时原子替换 GetCurrentConfig 的结果
func WatchRemoteConfig(ctx context.Context, local *Config, onChange func(*Config)) error {
	nc := local.Infra.Nacos
	serverConfigs, err := nacos.ServerConfigs(nc.ServerAddrs)
	if err != nil {
		return err
	}
	clientConfig := nacos.ClientConfig(nc.Namespace)
	cc, err := nacos.NewConfigClient(serverConfigs, &clientConfig)
	if err != nil {
		return err
	}
	nacosConfigClient = cc

	param := vo.ConfigParam{DataId: nc.DataID, Group: nc.Group}
	content, err := cc.GetConfig(param)
	if err != nil {
		return errors.Wrapf(err, "get nacos config %s/%s", nc.Group, nc.DataID)
	}
	if content != "" {
		merged, err := MergeYAML(local, []byte(content))
		if err != nil {
			return err
		}
		SetCurrentConfig(merged)
		if onChange != nil {
			onChange(merged)
		}
	}

	param.OnChange = func(namespace, group, dataId, data string) {
		merged, err := MergeYAML(local, []byte(data))
		if err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("data_id", dataId).Msg("ignore invalid remote config")
			return
		}
		SetCurrentConfig(merged)
		logger.Ctx(ctx).Info().Str("data_id", dataId).Msg("remote config updated")
		if onChange != nil {
			onChange(merged)
		}
	}
	if err := cc.ListenConfig(param); err != nil {
		return errors.Wrap(err, "listen nacos config")
	}
	return nil
}

func closeConfigClient() {
	if nacosConfigClient != nil {
		nacosConfigClient.CloseClient()
		nacosConfigClient = nil
	}
}
