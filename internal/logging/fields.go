package logging

import "github.com/sirupsen/logrus"

// BaseFields 构建 action + 配置路径等基础字段，便于不同入口复用。
func BaseFields(action, configPath string) logrus.Fields {
	return logrus.Fields{
		"action":     action,
		"configPath": configPath,
	}
}

// LifecycleFields 描述一次生命周期事件（install/activate）的公共字段。
func LifecycleFields(event, generation string) logrus.Fields {
	return logrus.Fields{
		"action":     "lifecycle",
		"event":      event,
		"generation": generation,
	}
}

// RequestFields 提供请求方法/路径/命中来源等字段，供 fetch 日志复用。
func RequestFields(requestID, method, path, generation, source string) logrus.Fields {
	return logrus.Fields{
		"action":     "fetch",
		"request_id": requestID,
		"method":     method,
		"path":       path,
		"generation": generation,
		"source":     source,
		"cache_hit":  source == "cache",
	}
}
