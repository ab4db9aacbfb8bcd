package layout

import "fmt"

// ConfigurationError 表示配置缺失或不合法，任何渲染尝试都必须终止。
// Field 指出出错的字段，调用方不得静默使用默认值代替。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration invalid: field %q: %s", e.Field, e.Reason)
}

// ValidationError 表示运行期取值违反了字段约束，在进入解析器之前拦截。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: field %q: %s", e.Field, e.Reason)
}

// AssetFetchError 表示必需的远程素材在超时内未能获取或解码。
type AssetFetchError struct {
	URL string
	Err error
}

func (e *AssetFetchError) Error() string {
	return fmt.Sprintf("fetch asset %q: %v", e.URL, e.Err)
}

func (e *AssetFetchError) Unwrap() error { return e.Err }

// PublicationStateError 表示活动未处于 published 状态时收到了提交。
// 必须向用户给出可操作的提示，而不是一个笼统的服务端错误。
type PublicationStateError struct {
	Status string
}

func (e *PublicationStateError) Error() string {
	return fmt.Sprintf("event is not published (status %q)", e.Status)
}
