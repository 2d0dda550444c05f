// Package markup 提供对网关推送中内嵌XML片段的宽松解析
//
// 推送内容常带有非法字符、未闭合标签或被中间层转义过的CDATA，
// 因此这里使用HTML解析器而非严格的XML解析器，所有查找在元素缺失时返回零值而不会panic。
package markup

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/net/html"
)

var ErrMalformed = errors.New("malformed markup")

const (
	cdataOpen  = "![CDATA["
	cdataClose = "]]"
)

// escapedCDATA 匹配被转义为注释的CDATA数字
var escapedCDATA = regexp.MustCompile(`<!--\[CDATA\[(\d+)\]\]-->`)

// Node 文档中的一个元素，nil表示未找到
type Node struct {
	n *html.Node
}

// Parse 解析片段，空内容视为无法解析
func Parse(s string) (*Node, error) {
	if strings.TrimSpace(s) == "" {
		return nil, ErrMalformed
	}
	root, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return &Node{n: root}, nil
}

// Find 按路径逐级查找第一个后代元素，路径项支持 name 或 name[attr=value]
func (n *Node) Find(path ...string) *Node {
	if n == nil || len(path) == 0 {
		return n
	}
	sel := parseSelector(path[0])
	var found *html.Node
	walk(n.n, func(c *html.Node) bool {
		if !sel.match(c) {
			return false
		}
		if len(path) == 1 {
			found = c
			return true
		}
		if r := (&Node{n: c}).Find(path[1:]...); r != nil {
			found = r.n
			return true
		}
		return false
	})
	if found == nil {
		return nil
	}
	return &Node{n: found}
}

// Has 路径上的元素是否存在
func (n *Node) Has(path ...string) bool {
	return n.Find(path...) != nil
}

// Text 元素内的文本，字面量CDATA包裹会被去除
func (n *Node) Text() string {
	if n == nil {
		return ""
	}
	var buf strings.Builder
	collectText(n.n, &buf)
	return UnwrapCDATA(strings.TrimSpace(buf.String()))
}

// Content 元素内的文本，没有文本时回退到被转义成注释的CDATA内容
func (n *Node) Content() string {
	if text := n.Text(); text != "" || n == nil {
		return text
	}
	for c := n.n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type != html.CommentNode {
			continue
		}
		data := strings.TrimSpace(c.Data)
		if strings.HasPrefix(data, "[CDATA[") && strings.HasSuffix(data, cdataClose) {
			return strings.TrimSpace(data[len("[CDATA[") : len(data)-len(cdataClose)])
		}
	}
	return ""
}

// Attr 读取属性，属性名不区分大小写
func (n *Node) Attr(name string) (string, bool) {
	if n == nil {
		return "", false
	}
	name = strings.ToLower(name)
	for _, a := range n.n.Attr {
		if a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

// Render 输出元素的HTML形式
func (n *Node) Render() string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	if err := html.Render(&buf, n.n); err != nil {
		return ""
	}
	return buf.String()
}

// AppMsgType 读取 appmsg>type 的值，缺失或无法识别时返回-1
func (n *Node) AppMsgType() int {
	t := n.Find("appmsg", "type")
	if t == nil {
		return -1
	}
	if text := t.Text(); text != "" {
		v, err := strconv.Atoi(text)
		if err != nil {
			return -1
		}
		return v
	}
	m := escapedCDATA.FindStringSubmatch(t.Render())
	if m == nil {
		return -1
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return -1
	}
	return v
}

// AppMsgType 解析片段并读取应用消息类型，任何失败都返回-1
func AppMsgType(raw string) int {
	doc, err := Parse(raw)
	if err != nil {
		return -1
	}
	return doc.AppMsgType()
}

// UnwrapCDATA 去除CDATA包裹，下标基于传入的字符串本身计算
func UnwrapCDATA(s string) string {
	start := strings.Index(s, cdataOpen)
	if start < 0 {
		return s
	}
	start += len(cdataOpen)
	end := strings.LastIndex(s, cdataClose)
	if end < start {
		return s
	}
	return strings.TrimSpace(s[start:end])
}

func collectText(n *html.Node, buf *strings.Builder) {
	if n.Type == html.TextNode {
		buf.WriteString(n.Data)
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		collectText(c, buf)
	}
}

// walk 按文档顺序遍历后代元素，fn返回true时停止
func walk(n *html.Node, fn func(*html.Node) bool) bool {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && fn(c) {
			return true
		}
		if walk(c, fn) {
			return true
		}
	}
	return false
}

type selector struct {
	tag, attr, value string
}

func parseSelector(s string) selector {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '[')
	if open < 0 || !strings.HasSuffix(s, "]") {
		return selector{tag: strings.ToLower(s)}
	}
	sel := selector{tag: strings.ToLower(s[:open])}
	k, v, _ := strings.Cut(s[open+1:len(s)-1], "=")
	sel.attr = strings.ToLower(strings.TrimSpace(k))
	sel.value = strings.Trim(strings.TrimSpace(v), `"'`)
	return sel
}

func (s selector) match(n *html.Node) bool {
	if n.Data != s.tag {
		return false
	}
	if s.attr == "" {
		return true
	}
	for _, a := range n.Attr {
		if a.Key == s.attr {
			return a.Val == s.value
		}
	}
	return false
}
