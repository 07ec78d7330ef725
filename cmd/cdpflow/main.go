package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgPath string

func main() {
	root := &cobra.Command{
		Use:   "cdpflow",
		Short: "基于 DevTools 协议的浏览器流量拦截工具",
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "配置文件路径")
	root.AddCommand(newRunCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
