package hub

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"text/template"
)

var quoteTemplate = template.Must(template.New("quote").Funcs(template.FuncMap{"x": escapeXML}).Parse(
	`<appmsg appid="" sdkver="0"><title>{{x .Title}}</title><des /><action>view</action><type>57</type>` +
		`<showtype>0</showtype><content /><url /><refermsg><type>1</type><svrid>{{.SvrID}}</svrid>` +
		`<fromusr>{{x .FromID}}</fromusr><chatusr>{{x .ToID}}</chatusr><displayname>{{x .DisplayName}}</displayname>` +
		`<content>{{x .Content}}</content><createtime>{{.CreateTime}}</createtime></refermsg></appmsg>`))

// QuoteAppMsg 生成引用消息的appmsg
func QuoteAppMsg(q QuoteSegment, title string) string {
	var buf bytes.Buffer
	_ = quoteTemplate.Execute(&buf, map[string]string{
		"Title":       title,
		"SvrID":       strconv.FormatInt(q.QuotedID, 10),
		"FromID":      q.FromID,
		"ToID":        q.ToID,
		"DisplayName": q.DisplayName,
		"Content":     q.QuotedContent,
		"CreateTime":  strconv.FormatInt(q.QuotedAt, 10),
	})
	return buf.String()
}

func escapeXML(s string) string {
	var buf bytes.Buffer
	_ = xml.EscapeText(&buf, []byte(s))
	return buf.String()
}
