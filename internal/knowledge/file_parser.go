package knowledge

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/unidoc/unioffice/document"
	"github.com/unidoc/unioffice/spreadsheet"
	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"

	apperrors "github.com/eatchicken1/frequency-ai-engine/internal/errors"
)

// FileParser 将文件内容解析为纯文本
type FileParser interface {
	Parse(content []byte) (string, error)
	FileTypes() []string
}

// TextParser 文本文件解析器，非法UTF-8字节被丢弃
type TextParser struct{}

func (p *TextParser) FileTypes() []string { return []string{"txt", "md", "markdown"} }

func (p *TextParser) Parse(content []byte) (string, error) {
	return strings.ToValidUTF8(string(content), ""), nil
}

// PDFParser PDF文件解析器
type PDFParser struct{}

func (p *PDFParser) FileTypes() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(content []byte) (string, error) {
	pdfReader, err := model.NewPdfReader(bytes.NewReader(content))
	if err != nil {
		return "", fmt.Errorf("解析PDF失败: %w", err)
	}

	numPages, err := pdfReader.GetNumPages()
	if err != nil {
		return "", fmt.Errorf("获取PDF页数失败: %w", err)
	}

	// 逐页提取，页之间用空行分隔
	var pages []string
	for i := 1; i <= numPages; i++ {
		page, err := pdfReader.GetPage(i)
		if err != nil {
			continue
		}
		ex, err := extractor.New(page)
		if err != nil {
			continue
		}
		text, err := ex.ExtractText()
		if err != nil || strings.TrimSpace(text) == "" {
			continue
		}
		pages = append(pages, text)
	}

	if len(pages) == 0 {
		return "", fmt.Errorf("no text extracted from PDF")
	}
	return strings.Join(pages, "\n\n"), nil
}

// WordParser Word文档解析器（仅支持.docx）
type WordParser struct{}

func (p *WordParser) FileTypes() []string { return []string{"docx"} }

func (p *WordParser) Parse(content []byte) (string, error) {
	doc, err := document.Read(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("解析Word文档失败: %w", err)
	}
	defer doc.Close()

	var textBuilder strings.Builder
	for _, para := range doc.Paragraphs() {
		for _, run := range para.Runs() {
			textBuilder.WriteString(run.Text())
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// ExcelParser Excel文件解析器（仅支持.xlsx）
type ExcelParser struct{}

func (p *ExcelParser) FileTypes() []string { return []string{"xlsx"} }

func (p *ExcelParser) Parse(content []byte) (string, error) {
	ss, err := spreadsheet.Read(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return "", fmt.Errorf("解析Excel文档失败: %w", err)
	}
	defer ss.Close()

	var textBuilder strings.Builder
	for _, sheet := range ss.Sheets() {
		textBuilder.WriteString(fmt.Sprintf("工作表: %s\n", sheet.Name()))
		for _, row := range sheet.Rows() {
			var rowText []string
			for _, cell := range row.Cells() {
				rowText = append(rowText, cell.GetString())
			}
			if len(rowText) > 0 {
				textBuilder.WriteString(strings.Join(rowText, "\t"))
				textBuilder.WriteString("\n")
			}
		}
		textBuilder.WriteString("\n")
	}
	return textBuilder.String(), nil
}

// FileParserManager 按文件类型选择解析器
type FileParserManager struct {
	parsers map[string]FileParser
}

// NewFileParserManager 创建文件解析器管理器
func NewFileParserManager() *FileParserManager {
	m := &FileParserManager{parsers: make(map[string]FileParser)}
	for _, p := range []FileParser{&PDFParser{}, &WordParser{}, &ExcelParser{}, &TextParser{}} {
		m.Register(p)
	}
	return m
}

// Register 注册解析器，后注册的覆盖同类型
func (m *FileParserManager) Register(p FileParser) {
	for _, t := range p.FileTypes() {
		m.parsers[t] = p
	}
}

// Parse 按 file_type（如 pdf、.md）解析文件内容
func (m *FileParserManager) Parse(content []byte, fileType string) (string, error) {
	ft := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), ".")
	parser, ok := m.parsers[ft]
	if !ok {
		return "", apperrors.NewInvalidFileFormatError(fileType)
	}
	return parser.Parse(content)
}

// Supports 是否支持该文件类型
func (m *FileParserManager) Supports(fileType string) bool {
	_, ok := m.parsers[strings.TrimPrefix(strings.ToLower(strings.TrimSpace(fileType)), ".")]
	return ok
}
