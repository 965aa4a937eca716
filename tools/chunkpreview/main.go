package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/eatchicken1/frequency-ai-engine/internal/knowledge"
)

var (
	chunkSize int
	overlap   int
	fileType  string
	quiet     bool
)

var rootCmd = &cobra.Command{
	Use:   "chunkpreview <file>",
	Short: "预览文件经过解析与切分后的分块结果",
	Long: `按入库时相同的解析器与切分规则处理本地文件，打印每个分块。
用于调整 knowledge.chunk.size / overlap 配置。`,
	Args: cobra.ExactArgs(1),
	RunE: run,
}

func init() {
	rootCmd.Flags().IntVarP(&chunkSize, "size", "s", knowledge.DefaultChunkSize, "分块大小（字符）")
	rootCmd.Flags().IntVarP(&overlap, "overlap", "o", knowledge.DefaultChunkOverlap, "相邻分块重叠（字符）")
	rootCmd.Flags().StringVarP(&fileType, "type", "t", "", "文件类型，默认取扩展名")
	rootCmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "只输出统计信息")
}

func run(cmd *cobra.Command, args []string) error {
	path := args[0]
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	ft := fileType
	if ft == "" {
		ft = strings.TrimPrefix(filepath.Ext(path), ".")
	}

	text, err := knowledge.NewFileParserManager().Parse(raw, ft)
	if err != nil {
		return err
	}

	chunks := knowledge.NewChunker(chunkSize, overlap, nil).Split(text)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "分块配置: chunkSize=%d, overlap=%d\n", chunkSize, overlap)
	fmt.Fprintf(out, "原始文本长度: %d 字符\n", len([]rune(text)))
	fmt.Fprintf(out, "分块数量: %d\n\n", len(chunks))

	if quiet {
		return nil
	}

	for _, chunk := range chunks {
		fmt.Fprintln(out, strings.Repeat("-", 80))
		fmt.Fprintf(out, "块 #%d [%d, %d) 字符数: %d\n", chunk.Index, chunk.Start, chunk.End, len([]rune(chunk.Text)))
		fmt.Fprintln(out, chunk.Text)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
