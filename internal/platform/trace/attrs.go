package trace

// 解析链路上 span 使用的属性名。
const (
	LinkScheme   = "link.scheme"
	LinkHost     = "link.host"
	LinkStages   = "link.stages"
	LinkOutcome  = "link.outcome"
	DeferredStep = "applinks.deferred.state"
)
