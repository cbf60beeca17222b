// internal/decode/decode.go

// Package decode 负责从事件描述的自由文本中提取结构化信息。
// 描述文本是一种半结构化载荷：位置坐标与引用发言以约定的文本
// 形式内嵌其中。所有模式集中在本包，后端改为结构化字段后只需
// 替换这里，不触碰各视图的对账逻辑。
package decode

import (
	"regexp"
	"strconv"
	"strings"
)

// GrammarVersion 标识当前文本语法的版本。
// v1：位置为 "(x, y)" 形式的整数对；发言为
// "Said to X: 'Y'" 或中文 “对 X 说：「Y」/说：「Y」” 形式。
const GrammarVersion = 1

// Speech 表示从描述中提取出的发言内容
type Speech struct {
	Target  string // 发言对象，无法识别时为空
	Content string
}

var (
	// 位置：取描述中第一个括号括起的整数对
	positionPattern = regexp.MustCompile(`\((-?\d+)\s*,\s*(-?\d+)\)`)

	// 英文发言形式：Said to P2: 'Hello'
	saidToPattern = regexp.MustCompile(`Said to ([^:：]+?)\s*[:：]\s*['"](.*)['"]`)

	// 中文发言形式：对 P2 说："你好" / 说："你好"
	// 同时接受全角引号与半角引号
	chineseTargetPattern = regexp.MustCompile(`对\s*(\S+?)\s*说\s*[:：]\s*[“"'](.*?)[”"']`)
	chinesePlainPattern  = regexp.MustCompile(`说\s*[:：]\s*[“"'](.*?)[”"']`)
)

// Position 从描述中提取 (x, y) 坐标。
// 不符合语法的描述返回 ok=false，由调用方静默丢弃。
func Position(description string) (x, y int, ok bool) {
	m := positionPattern.FindStringSubmatch(description)
	if m == nil {
		return 0, 0, false
	}
	x, err1 := strconv.Atoi(m[1])
	y, err2 := strconv.Atoi(m[2])
	if err1 != nil || err2 != nil {
		return 0, 0, false
	}
	return x, y, true
}

// ExtractSpeech 从描述中提取发言对象与内容。
// 两种已知形式都不匹配时，整段描述视为无对象的发言内容。
func ExtractSpeech(description string) Speech {
	if m := saidToPattern.FindStringSubmatch(description); m != nil {
		return Speech{
			Target:  strings.TrimSpace(m[1]),
			Content: m[2],
		}
	}
	if m := chineseTargetPattern.FindStringSubmatch(description); m != nil {
		return Speech{
			Target:  strings.TrimSpace(m[1]),
			Content: m[2],
		}
	}
	if m := chinesePlainPattern.FindStringSubmatch(description); m != nil {
		return Speech{Content: m[1]}
	}

	return Speech{Content: strings.TrimSpace(description)}
}
