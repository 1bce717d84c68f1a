package commands

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "gazou",
	Short: "Gazou - Image gallery backend",
	Long:  `Image gallery backend with a WebSocket protocol, tag search, S3 storage and challenge-based authentication.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("kv-backend", "redis", "Metadata backend (redis or memory)")
	rootCmd.PersistentFlags().String("redis-addr", "localhost:6379", "Redis address")
	rootCmd.PersistentFlags().String("redis-password", "", "Redis password")
	rootCmd.PersistentFlags().Int("redis-db", 0, "Redis database index")
	rootCmd.PersistentFlags().String("ws-addr", ":8440", "WebSocket listen address")
	rootCmd.PersistentFlags().String("http-addr", ":8441", "HTTP listen address")
	rootCmd.PersistentFlags().String("s3-bucket", "gazou-images", "S3 bucket name")
	rootCmd.PersistentFlags().String("s3-region", "us-east-1", "S3 region")
	rootCmd.PersistentFlags().String("image-url", "http://localhost:8441/images", "Public image base URL")
	rootCmd.PersistentFlags().String("upload-url", "http://localhost:8441/upload", "Upload base URL")
	rootCmd.PersistentFlags().Duration("rate-limit-interval", 10*time.Second, "Rate limit window")
	rootCmd.PersistentFlags().Int64("rate-limit-max", 50, "Messages per window per connection")

	viper.BindPFlag("kv-backend", rootCmd.PersistentFlags().Lookup("kv-backend"))
	viper.BindPFlag("redis-addr", rootCmd.PersistentFlags().Lookup("redis-addr"))
	viper.BindPFlag("redis-password", rootCmd.PersistentFlags().Lookup("redis-password"))
	viper.BindPFlag("redis-db", rootCmd.PersistentFlags().Lookup("redis-db"))
	viper.BindPFlag("ws-addr", rootCmd.PersistentFlags().Lookup("ws-addr"))
	viper.BindPFlag("http-addr", rootCmd.PersistentFlags().Lookup("http-addr"))
	viper.BindPFlag("s3-bucket", rootCmd.PersistentFlags().Lookup("s3-bucket"))
	viper.BindPFlag("s3-region", rootCmd.PersistentFlags().Lookup("s3-region"))
	viper.BindPFlag("image-url", rootCmd.PersistentFlags().Lookup("image-url"))
	viper.BindPFlag("upload-url", rootCmd.PersistentFlags().Lookup("upload-url"))
	viper.BindPFlag("rate-limit-interval", rootCmd.PersistentFlags().Lookup("rate-limit-interval"))
	viper.BindPFlag("rate-limit-max", rootCmd.PersistentFlags().Lookup("rate-limit-max"))
}
